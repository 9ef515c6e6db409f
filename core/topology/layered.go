// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package topology

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMixNodes is the cause reported when a topology has no mix nodes.
	ErrNoMixNodes = errors.New("topology: no mix nodes")

	// ErrNoProviders is returned when a topology has no providers.
	ErrNoProviders = errors.New("topology: no providers")

	errMissingLayer = errors.New("missing layer")
	errEmptyLayer   = errors.New("empty layer")
	errLayerZero    = errors.New("layers are 1-based")
)

// IntegrityError is returned when the mix nodes of a topology do not form
// the contiguous layers 1..N.  It is not retryable.
type IntegrityError struct {
	Layer uint64
	Err   error
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("topology: broken layering at layer %d: %v", e.Layer, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// Layered is a topology partitioned into layers 1..N.
type Layered struct {
	layers [][]*MixNodePresence
}

// Build groups the mix nodes of t by layer, keeping the order in which the
// directory listed them.
func Build(t *Topology) (*Layered, error) {
	buckets := make(map[uint64][]*MixNodePresence)
	for i := range t.MixNodes {
		n := &t.MixNodes[i]
		buckets[n.Layer] = append(buckets[n.Layer], n)
	}
	return FromLayers(buckets)
}

// FromLayers validates an already bucketed topology.  Every layer 1..N,
// N = len(buckets), must be present and non-empty.
func FromLayers(buckets map[uint64][]*MixNodePresence) (*Layered, error) {
	if len(buckets) == 0 {
		return nil, &IntegrityError{Layer: 1, Err: ErrNoMixNodes}
	}
	if _, ok := buckets[0]; ok {
		return nil, &IntegrityError{Layer: 0, Err: errLayerZero}
	}

	n := uint64(len(buckets))
	l := &Layered{layers: make([][]*MixNodePresence, 0, n)}
	for layer := uint64(1); layer <= n; layer++ {
		nodes, ok := buckets[layer]
		if !ok {
			return nil, &IntegrityError{Layer: layer, Err: errMissingLayer}
		}
		if len(nodes) == 0 {
			return nil, &IntegrityError{Layer: layer, Err: errEmptyLayer}
		}
		l.layers = append(l.layers, nodes)
	}
	return l, nil
}

// Len returns the number of layers.
func (l *Layered) Len() int {
	return len(l.layers)
}

// Layer returns the nodes of the 1-based layer n, or nil if there is no
// such layer.  The returned slice must not be modified.
func (l *Layered) Layer(n int) []*MixNodePresence {
	if n < 1 || n > len(l.layers) {
		return nil
	}
	return l.layers[n-1]
}
