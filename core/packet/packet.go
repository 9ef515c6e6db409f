// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package packet defines the packet construction and per-hop delay
// collaborators used by the dispatcher, along with default implementations.
package packet

import (
	mRand "math/rand"
	"time"

	"github.com/katzenpost/hpqc/rand"

	"github.com/katzenpost/mixclient/core/path"
)

// Builder assembles a packet for payload over route.  delays holds one
// entry per hop.
type Builder interface {
	Build(payload []byte, route path.Route, dst *path.Destination, delays []time.Duration) ([]byte, error)
}

// DelayGenerator returns the per-hop mixing delays of a packet.
type DelayGenerator interface {
	Generate(hopCount int) []time.Duration
}

// ExpDelays draws per-hop delays from an exponential distribution with
// rate Mu per millisecond, capped at MaxDelay milliseconds.
type ExpDelays struct {
	rng      *mRand.Rand
	mu       float64
	maxDelay uint64
}

// NewExpDelays returns an ExpDelays.  mu must be positive.  A zero maxDelay
// disables the cap.
func NewExpDelays(rng *mRand.Rand, mu float64, maxDelay uint64) *ExpDelays {
	if rng == nil {
		rng = rand.NewMath()
	}
	return &ExpDelays{
		rng:      rng,
		mu:       mu,
		maxDelay: maxDelay,
	}
}

// Generate implements DelayGenerator.
func (e *ExpDelays) Generate(hopCount int) []time.Duration {
	delays := make([]time.Duration, 0, hopCount)
	for i := 0; i < hopCount; i++ {
		delay := uint64(rand.Exp(e.rng, e.mu)) + 1
		if e.maxDelay > 0 && delay > e.maxDelay {
			delay = e.maxDelay
		}
		delays = append(delays, time.Duration(delay)*time.Millisecond)
	}
	return delays
}
