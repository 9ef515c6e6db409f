// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixclient/core/addr"
	"github.com/katzenpost/mixclient/core/log"
	"github.com/katzenpost/mixclient/core/path"
)

func testLogBackend(t *testing.T) *log.Backend {
	b, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	return b
}

func nodeFor(t *testing.T, a net.Addr) *path.Node {
	encoded, err := addr.EncodeAddress(a.String())
	require.NoError(t, err)
	return &path.Node{Address: encoded}
}

func TestFrame(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	var buf bytes.Buffer
	require.NoError(writeFrame(&buf, []byte("packet")))
	require.NoError(writeFrame(&buf, nil))

	b, err := readFrame(&buf)
	require.NoError(err)
	require.Equal([]byte("packet"), b)
	b, err = readFrame(&buf)
	require.NoError(err)
	require.Empty(b)

	require.ErrorIs(writeFrame(&buf, make([]byte, MaxFrameLength+1)), ErrFrameTooLarge)

	buf.Reset()
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err = readFrame(&buf)
	require.ErrorIs(err, ErrFrameTooLarge)
}

func TestProxyConfig(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cfg := &ProxyConfig{}
	require.NoError(cfg.FixupAndValidate())
	require.Equal(ProxyTypeNone, cfg.Type)

	cfg = &ProxyConfig{Type: "SOCKS5", Address: "127.0.0.1:9050"}
	require.NoError(cfg.FixupAndValidate())
	require.Equal("tcp", cfg.Network)
	d, err := NewDialer(cfg)
	require.NoError(err)
	require.NotNil(d)

	require.Error((&ProxyConfig{Type: "http"}).FixupAndValidate())
	require.Error((&ProxyConfig{Type: ProxyTypeSOCKS5}).FixupAndValidate())
	require.Error((&ProxyConfig{Type: ProxyTypeSOCKS5, Address: "x", Password: "p"}).FixupAndValidate())
}

func TestTCPMixSender(t *testing.T) {
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer ln.Close()

	gotCh := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		b, err := readFrame(conn)
		if err != nil {
			return
		}
		gotCh <- b
	}()

	dialer, err := NewDialer(nil)
	require.NoError(err)
	s := NewTCPMixSender(dialer, testLogBackend(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(s.Send(ctx, []byte("sphinx packet"), nodeFor(t, ln.Addr())))
	require.Equal([]byte("sphinx packet"), <-gotCh)
}

func TestTCPMixSenderRefused(t *testing.T) {
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	node := nodeFor(t, ln.Addr())
	ln.Close()

	dialer, err := NewDialer(nil)
	require.NoError(err)
	s := NewTCPMixSender(dialer, testLogBackend(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Error(s.Send(ctx, []byte("lost"), node))
}

func serveProvider(t *testing.T, ln net.Listener, resp *PullResponse, reqCh chan<- *PullRequest) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		raw, err := readFrame(conn)
		if err != nil {
			conn.Close()
			return
		}
		req := new(PullRequest)
		if err := cbor.Unmarshal(raw, req); err != nil {
			conn.Close()
			return
		}
		reqCh <- req
		b, err := cbor.Marshal(resp)
		if err == nil {
			_ = writeFrame(conn, b)
		}
		conn.Close()
	}
}

func TestProviderClient(t *testing.T) {
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer ln.Close()

	reqCh := make(chan *PullRequest, 1)
	go serveProvider(t, ln, &PullResponse{
		Status:   StatusOK,
		Messages: [][]byte{[]byte("one"), []byte("two")},
	}, reqCh)

	dialer, err := NewDialer(nil)
	require.NoError(err)
	mailbox, err := addr.EncodeAddress("10.1.1.1:1789")
	require.NoError(err)
	c, err := NewProviderClient(dialer, ln.Addr().String(), &mailbox, "alice", []byte("token"), testLogBackend(t))
	require.NoError(err)
	require.Equal(ln.Addr().String(), c.Address())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := c.Retrieve(ctx)
	require.NoError(err)
	require.Equal([][]byte{[]byte("one"), []byte("two")}, msgs)

	req := <-reqCh
	require.Equal(mailbox[:], req.Address)
	require.Equal("alice", req.ClientID)
	require.Equal([]byte("token"), req.AuthToken)
}

func TestProviderClientRejected(t *testing.T) {
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer ln.Close()
	go serveProvider(t, ln, &PullResponse{Status: 3}, make(chan *PullRequest, 1))

	dialer, err := NewDialer(nil)
	require.NoError(err)
	var mailbox addr.Address
	c, err := NewProviderClient(dialer, ln.Addr().String(), &mailbox, "bob", nil, testLogBackend(t))
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Retrieve(ctx)
	var provErr *ProviderError
	require.ErrorAs(err, &provErr)
	require.Equal(uint8(3), provErr.Status)

	_, err = NewProviderClient(dialer, "provider.example.net:9000", &mailbox, "bob", nil, testLogBackend(t))
	require.Error(err)
}

func TestProviderClientTimeout(t *testing.T) {
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer ln.Close()

	// Accept and never answer.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	dialer, err := NewDialer(nil)
	require.NoError(err)
	var mailbox addr.Address
	c, err := NewProviderClient(dialer, ln.Addr().String(), &mailbox, "carol", nil, testLogBackend(t))
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.Retrieve(ctx)
	require.Error(err)
	require.Less(time.Since(start), 5*time.Second)
}
