// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package packet

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/mixclient/core/path"
)

// FrameVersion is the version of the frame encoding.
const FrameVersion = 0

var (
	// ErrPayloadTooLarge is returned when a payload exceeds the configured
	// packet payload length.
	ErrPayloadTooLarge = errors.New("packet: payload too large")

	errNoHops        = errors.New("packet: empty route")
	errDelayMismatch = errors.New("packet: delay count does not match route length")
)

// Hop is the per-hop routing information of a Frame.
type Hop struct {
	Address   []byte
	PublicKey []byte
	DelayMsec uint32
}

// FrameDestination is the recipient of a Frame.
type FrameDestination struct {
	Address    []byte
	Identifier []byte
}

// Frame is the unencrypted packet layout produced by FrameBuilder.  It is
// meant for local deployments and tests; it carries the same routing
// information a Sphinx header would, in the clear.
type Frame struct {
	Version     uint8
	Hops        []Hop
	Destination FrameDestination
	Payload     []byte
}

// FrameBuilder is a Builder emitting canonically CBOR encoded Frames with a
// fixed payload length.
type FrameBuilder struct {
	payloadLength int

	enc cbor.EncMode
	dec cbor.DecMode
}

// NewFrameBuilder returns a FrameBuilder padding payloads to payloadLength.
func NewFrameBuilder(payloadLength int) (*FrameBuilder, error) {
	if payloadLength <= 0 {
		return nil, fmt.Errorf("packet: invalid payload length: %d", payloadLength)
	}
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return &FrameBuilder{
		payloadLength: payloadLength,
		enc:           enc,
		dec:           dec,
	}, nil
}

// Build implements Builder.
func (b *FrameBuilder) Build(payload []byte, route path.Route, dst *path.Destination, delays []time.Duration) ([]byte, error) {
	if len(route) == 0 {
		return nil, errNoHops
	}
	if len(delays) != len(route) {
		return nil, errDelayMismatch
	}
	if len(payload) > b.payloadLength {
		return nil, ErrPayloadTooLarge
	}

	f := &Frame{
		Version: FrameVersion,
		Hops:    make([]Hop, 0, len(route)),
		Destination: FrameDestination{
			Address:    dst.Address[:],
			Identifier: dst.Identifier[:],
		},
		Payload: make([]byte, b.payloadLength),
	}
	copy(f.Payload, payload)

	for i, n := range route {
		pk, err := n.NIKEPublicKey()
		if err != nil {
			return nil, fmt.Errorf("packet: hop %d: %w", i, err)
		}
		f.Hops = append(f.Hops, Hop{
			Address:   n.Address[:],
			PublicKey: pk.Bytes(),
			DelayMsec: uint32(delays[i] / time.Millisecond),
		})
	}
	return b.enc.Marshal(f)
}

// Parse decodes a packet produced by Build.
func (b *FrameBuilder) Parse(raw []byte) (*Frame, error) {
	f := new(Frame)
	if err := b.dec.Unmarshal(raw, f); err != nil {
		return nil, err
	}
	if f.Version != FrameVersion {
		return nil, fmt.Errorf("packet: unsupported frame version: %d", f.Version)
	}
	return f, nil
}
