// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"errors"
	"fmt"

	"github.com/katzenpost/mixclient/client/internal/instrument"
)

var (
	// ErrTooManyFailures is returned by the dispatcher when
	// MaxConsecutiveFailures route or packet failures happened without a
	// successful send in between.
	ErrTooManyFailures = errors.New("client: too many consecutive dispatch failures")

	// ErrShutdown is returned when the client is shutting down.
	ErrShutdown = errors.New("client: shutdown requested")

	// ErrQueueFull is returned by Send when the outgoing queue is full.
	ErrQueueFull = errors.New("client: outgoing queue is full")
)

// FatalError is a setup failure that prevents the dispatch loop from
// starting.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("client: %s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// TickError is a failed dispatch tick.  Stage is one of the instrument
// stages: route, packet, send or retrieve.
type TickError struct {
	Stage string
	Err   error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("client: %s: %v", e.Stage, e.Err)
}

func (e *TickError) Unwrap() error {
	return e.Err
}

// Misconfiguration reports whether the failure is one that repeats on every
// tick until the topology or configuration changes.
func (e *TickError) Misconfiguration() bool {
	return e.Stage == instrument.StageRoute || e.Stage == instrument.StagePacket
}
