// Copyright (C) 2020-2026, Aegis Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package errs provides a small error-aggregation helper used where the
// core needs to collect several independent failures (e.g. shutting down
// multiple components) before returning a single error to the caller.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Errs is a concurrency-safe collection of errors.
type Errs struct {
	mu   sync.Mutex
	errs []error
}

// Add appends err to the collection; nil errors are ignored.
func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

// Errored reports whether any error has been added.
func (e *Errs) Errored() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs) > 0
}

// Err collapses the collection into a single error, or nil if empty.
func (e *Errs) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch len(e.errs) {
	case 0:
		return nil
	case 1:
		return e.errs[0]
	default:
		return errors.New(e.string())
	}
}

func (e *Errs) string() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d errors occurred:", len(e.errs))
	for _, err := range e.errs {
		sb.WriteString("\n\t* ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}
