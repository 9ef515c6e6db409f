// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package path provides route selection over a layered topology.
package path

import (
	"errors"
	"fmt"
	mRand "math/rand"

	"github.com/katzenpost/hpqc/nike/x25519"

	"github.com/katzenpost/mixclient/core/addr"
	"github.com/katzenpost/mixclient/core/topology"
)

// DestinationIdentifierLength is the length of a Destination identifier.
const DestinationIdentifierLength = 16

var errEmptyTopology = errors.New("path: topology has no layers")

// RouteBuildError is returned when the node chosen for a layer can not be
// encoded.  Route construction is aborted, the node is never replaced.
type RouteBuildError struct {
	Layer int
	Host  string
	Err   error
}

// Error implements the error interface.
func (e *RouteBuildError) Error() string {
	return fmt.Sprintf("path: failed to build hop for layer %d (%v): %v", e.Layer, e.Host, e.Err)
}

func (e *RouteBuildError) Unwrap() error {
	return e.Err
}

// Node is one hop of a Route in packet format encoding.
type Node struct {
	Address   addr.Address
	PublicKey [addr.PublicKeyLength]byte
}

// NodeFromPresence encodes an advertised mix node.
func NodeFromPresence(p *topology.MixNodePresence) (*Node, error) {
	a, err := addr.EncodeAddress(p.Host)
	if err != nil {
		return nil, err
	}
	k, err := addr.DecodePublicKey(p.PubKey)
	if err != nil {
		return nil, err
	}
	return &Node{Address: a, PublicKey: k}, nil
}

// NIKEPublicKey returns the hop key as an X25519 public key.
func (n *Node) NIKEPublicKey() (*x25519.PublicKey, error) {
	pk := new(x25519.PublicKey)
	if err := pk.FromBytes(n.PublicKey[:]); err != nil {
		return nil, err
	}
	return pk, nil
}

// Route is the ordered list of hops a packet traverses, first hop first.
// A Route is used for exactly one packet and never modified.
type Route []*Node

// FirstHop returns the node the packet is handed to.
func (r Route) FirstHop() *Node {
	if len(r) == 0 {
		return nil
	}
	return r[0]
}

// Strings returns the hop addresses, suitable for debug logging.
func (r Route) Strings() []string {
	s := make([]string, 0, len(r))
	for i, n := range r {
		s = append(s, fmt.Sprintf("Hop[%d] %v", i, n.Address.String()))
	}
	return s
}

// Destination identifies the final recipient of a packet.
type Destination struct {
	Address    addr.Address
	Identifier [DestinationIdentifierLength]byte
}

// PlaceholderDestination returns the static destination used until
// recipient discovery exists.
func PlaceholderDestination() Destination {
	var d Destination
	for i := range d.Address {
		d.Address[i] = 42
	}
	for i := range d.Identifier {
		d.Identifier[i] = 1
	}
	return d
}

// New selects a route through l: one node per layer, drawn uniformly and
// independently with rng, in ascending layer order.
func New(rng *mRand.Rand, l *topology.Layered) (Route, error) {
	if l == nil || l.Len() == 0 {
		return nil, errEmptyTopology
	}

	route := make(Route, 0, l.Len())
	for layer := 1; layer <= l.Len(); layer++ {
		nodes := l.Layer(layer)
		if len(nodes) == 0 {
			return nil, &RouteBuildError{Layer: layer, Err: errEmptyTopology}
		}
		p := nodes[rng.Intn(len(nodes))]
		n, err := NodeFromPresence(p)
		if err != nil {
			return nil, &RouteBuildError{Layer: layer, Host: p.Host, Err: err}
		}
		route = append(route, n)
	}
	return route, nil
}
