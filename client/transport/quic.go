// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixclient/core/log"
	"github.com/katzenpost/mixclient/core/path"
)

// QUICNextProto is the ALPN protocol spoken by mix QUIC listeners.
const QUICNextProto = "h3"

// QUICMixSender sends every packet on a fresh QUIC stream.  Mix nodes
// present self-signed certificates, authentication is left to the packet
// layer.
type QUICMixSender struct {
	tlsConf *tls.Config
	log     *logging.Logger
}

// NewQUICMixSender returns a QUICMixSender.
func NewQUICMixSender(logBackend *log.Backend) *QUICMixSender {
	return &QUICMixSender{
		tlsConf: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{QUICNextProto},
		},
		log: logBackend.GetLogger("client/transport:quic"),
	}
}

// Send implements MixSender.  It returns once the mix has closed its side
// of the stream, which is the delivery acknowledgement.
func (s *QUICMixSender) Send(ctx context.Context, pkt []byte, firstHop *path.Node) error {
	addr := firstHop.Address.String()
	conn, err := quic.DialAddr(ctx, addr, s.tlsConf, nil)
	if err != nil {
		return fmt.Errorf("transport: failed to dial mix %v: %w", addr, err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("transport: failed to open stream to mix %v: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := stream.SetDeadline(deadline); err != nil {
			return err
		}
	}
	if err := writeFrame(stream, pkt); err != nil {
		return fmt.Errorf("transport: failed to send to mix %v: %w", addr, err)
	}
	if err := stream.Close(); err != nil {
		return err
	}
	if _, err := io.Copy(io.Discard, stream); err != nil {
		return fmt.Errorf("transport: mix %v did not acknowledge: %w", addr, err)
	}
	s.log.Debugf("Sent %d byte packet to %v", len(pkt), addr)
	return nil
}
