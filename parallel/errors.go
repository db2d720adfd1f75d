// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package parallel

import "errors"

var (
	errInvalidVertex = errors.New("parallel: nil vertex in batch")
	errHashMismatch  = errors.New("parallel: vertex content does not match its id")
	errBadSignature  = errors.New("parallel: signature verification failed")
)
