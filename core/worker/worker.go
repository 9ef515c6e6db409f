// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package worker provides managed background goroutines.
package worker

import (
	"context"
	"sync"
)

// Worker is a set of background goroutines sharing one halt signal.
type Worker struct {
	sync.WaitGroup
	initOnce sync.Once
	haltOnce sync.Once

	haltCh chan interface{}
	ctx    context.Context
	cancel context.CancelFunc
}

// Go runs fn in a new goroutine tracked by the Worker.  fn must return once
// HaltCh is closed.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// Halt closes HaltCh, cancels Context and waits for every goroutine to
// return.  It is safe to call more than once.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	w.haltOnce.Do(func() {
		close(w.haltCh)
		w.cancel()
	})
	w.Wait()
}

// HaltCh returns the channel closed by Halt.
func (w *Worker) HaltCh() <-chan interface{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

// Context returns a context cancelled by Halt, for goroutines that block
// on context aware calls instead of selecting on HaltCh.
func (w *Worker) Context() context.Context {
	w.initOnce.Do(w.init)
	return w.ctx
}

func (w *Worker) init() {
	w.haltCh = make(chan interface{})
	w.ctx, w.cancel = context.WithCancel(context.Background())
}
