// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixclient/core/log"
	"github.com/katzenpost/mixclient/core/path"
)

// MixSender delivers a packet to the first hop of its route.  A nil error
// is the acknowledgement.
type MixSender interface {
	Send(ctx context.Context, pkt []byte, firstHop *path.Node) error
}

// TCPMixSender sends every packet over a fresh TCP connection.
type TCPMixSender struct {
	dialer ContextDialer
	log    *logging.Logger
}

// NewTCPMixSender returns a TCPMixSender using dialer.
func NewTCPMixSender(dialer ContextDialer, logBackend *log.Backend) *TCPMixSender {
	return &TCPMixSender{
		dialer: dialer,
		log:    logBackend.GetLogger("client/transport:mix"),
	}
}

// Send implements MixSender.
func (s *TCPMixSender) Send(ctx context.Context, pkt []byte, firstHop *path.Node) error {
	addr := firstHop.Address.String()
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: failed to dial mix %v: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	if err := writeFrame(conn, pkt); err != nil {
		return fmt.Errorf("transport: failed to send to mix %v: %w", addr, err)
	}
	s.log.Debugf("Sent %d byte packet to %v", len(pkt), addr)
	return nil
}
