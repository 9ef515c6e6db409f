// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport implements the network collaborators of the client:
// delivery of packets to a first hop mix, and mailbox retrieval from a
// provider.
package transport

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	frameHeaderLength = 4

	// MaxFrameLength is the largest frame body accepted or sent.
	MaxFrameLength = 1 << 20
)

// ErrFrameTooLarge is returned for frames longer than MaxFrameLength.
var ErrFrameTooLarge = errors.New("transport: frame too large")

func writeFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameLength {
		return ErrFrameTooLarge
	}
	buf := make([]byte, frameHeaderLength+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[frameHeaderLength:], body)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [frameHeaderLength]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameLength {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
