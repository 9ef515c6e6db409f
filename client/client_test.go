// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	mRand "math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixclient/client/config"
	"github.com/katzenpost/mixclient/client/transport"
	"github.com/katzenpost/mixclient/core/packet"
	"github.com/katzenpost/mixclient/core/topology"
)

func readTestFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	b := make([]byte, binary.BigEndian.Uint32(hdr[:]))
	_, err := io.ReadFull(r, b)
	return b, err
}

func writeTestFrame(w io.Writer, b []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// serve runs handler for every connection accepted on ln until the test
// ends.
func serve(t *testing.T, ln net.Listener, handler func(net.Conn)) {
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handler(conn)
			}()
		}
	}()
}

type testNetwork struct {
	directory *httptest.Server
	packets   atomic.Int32
	pulls     atomic.Int32
}

// newTestNetwork starts a directory, one mix listener shared by every node
// of a 3 layer topology and a provider handing out msgs.
func newTestNetwork(t *testing.T, withProvider bool, msgs [][]byte) *testNetwork {
	require := require.New(t)
	n := new(testNetwork)

	mixLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	serve(t, mixLn, func(conn net.Conn) {
		if _, err := readTestFrame(conn); err == nil {
			n.packets.Add(1)
		}
	})

	topo := testTopology(t, 3, 2)
	for i := range topo.MixNodes {
		topo.MixNodes[i].Host = mixLn.Addr().String()
	}

	if withProvider {
		providerLn, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(err)
		resp, err := cbor.Marshal(&transport.PullResponse{Status: transport.StatusOK, Messages: msgs})
		require.NoError(err)
		serve(t, providerLn, func(conn net.Conn) {
			raw, err := readTestFrame(conn)
			if err != nil {
				return
			}
			req := new(transport.PullRequest)
			if err := cbor.Unmarshal(raw, req); err != nil || req.ClientID != "alice" {
				return
			}
			n.pulls.Add(1)
			writeTestFrame(conn, resp)
		})
		topo.MixProviderNodes = append(topo.MixProviderNodes, topology.ProviderPresence{
			ClientListener: providerLn.Addr().String(),
			MixnetListener: providerLn.Addr().String(),
		})
	}

	n.directory = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/presence/topology" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(topo)
	}))
	t.Cleanup(n.directory.Close)
	return n
}

func (n *testNetwork) config(t *testing.T) *config.Config {
	cfg, err := config.Load([]byte(fmt.Sprintf(`
[Logging]
  Level = "DEBUG"

[Directory]
  LocalURL = "%s"
  FetchTimeout = 5

[Dispatch]
  TickInterval = 5
  RetrieveEvery = 3

[Provider]
  ClientID = "Alice"

[Inbox]
  File = "%s"
`, n.directory.URL, filepath.Join(t.TempDir(), "inbox.db"))))
	require.NoError(t, err)
	return cfg
}

func TestClient(t *testing.T) {
	require := require.New(t)
	n := newTestNetwork(t, true, [][]byte{[]byte("hello"), []byte("world")})

	c, err := New(context.Background(), n.config(t), true)
	require.NoError(err)
	require.NoError(c.Send([]byte("real traffic")))
	c.Start()

	require.Eventually(func() bool {
		count, err := c.Inbox().Count()
		return err == nil && count == 2 && n.pulls.Load() >= 2 && n.packets.Load() >= 6
	}, 10*time.Second, 10*time.Millisecond)

	c.Shutdown()
	require.NoError(c.Wait())
	require.ErrorIs(c.Send([]byte("late")), ErrShutdown)
}

func TestRunContextCancel(t *testing.T) {
	require := require.New(t)
	n := newTestNetwork(t, true, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, n.config(t), true)
	}()
	require.Eventually(func() bool {
		return n.packets.Load() >= 1
	}, 10*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunGivesUp(t *testing.T) {
	require := require.New(t)
	n := newTestNetwork(t, false, nil)

	// Cover payloads never fit, so every tick fails to build a packet.
	cfg, err := config.Load([]byte(fmt.Sprintf(`
[Logging]
  Disable = true

[Directory]
  LocalURL = "%s"

[Dispatch]
  TickInterval = 5
  PayloadLength = 8
  MaxConsecutiveFailures = 3

[Provider]
  Address = "127.0.0.1:1"
`, n.directory.URL)))
	require.NoError(err)

	err = Run(context.Background(), cfg, true)
	require.ErrorIs(err, ErrTooManyFailures)
	require.ErrorIs(err, packet.ErrPayloadTooLarge)
	require.Zero(n.packets.Load())
}

func TestRunDeadProvider(t *testing.T) {
	require := require.New(t)
	n := newTestNetwork(t, false, nil)

	// Nothing listens on the pinned provider, so every retrieval fails.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	deadAddr := ln.Addr().String()
	ln.Close()

	cfg, err := config.Load([]byte(fmt.Sprintf(`
[Logging]
  Disable = true

[Directory]
  LocalURL = "%s"

[Dispatch]
  TickInterval = 5
  RetrieveEvery = 1
  MaxConsecutiveFailures = 1

[Provider]
  Address = "%s"
`, n.directory.URL, deadAddr)))
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, cfg, true)
	}()
	require.Eventually(func() bool {
		return n.packets.Load() >= 5
	}, 10*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestInboxDuringShutdown(t *testing.T) {
	require := require.New(t)
	n := newTestNetwork(t, true, [][]byte{[]byte("hello")})

	c, err := New(context.Background(), n.config(t), true)
	require.NoError(err)
	c.Start()
	require.Eventually(func() bool {
		count, err := c.Inbox().Count()
		return err == nil && count == 1
	}, 10*time.Second, 10*time.Millisecond)

	stopCh := make(chan struct{})
	doneCh := make(chan bool)
	go func() {
		ok := true
		for {
			select {
			case <-stopCh:
				doneCh <- ok
				return
			default:
			}
			ib := c.Inbox()
			if ib == nil {
				ok = false
				continue
			}
			ib.Count()
		}
	}()

	c.Shutdown()
	require.NoError(c.Wait())
	close(stopCh)
	require.True(<-doneCh)

	require.NotNil(c.Inbox())
	_, err = c.Inbox().Count()
	require.Error(err)
}

func TestNewFatal(t *testing.T) {
	require := require.New(t)
	n := newTestNetwork(t, false, nil)

	_, err := New(context.Background(), n.config(t), true)
	var fatal *FatalError
	require.True(errors.As(err, &fatal))
	require.Equal("provider", fatal.Stage)
	require.ErrorIs(err, topology.ErrNoProviders)

	cfg, err := config.Load([]byte("[Directory]\nLocalURL = \"http://127.0.0.1:1\"\nFetchTimeout = 1\n[Logging]\nDisable = true\n"))
	require.NoError(err)
	_, err = New(context.Background(), cfg, true)
	require.True(errors.As(err, &fatal))
	require.Equal("topology fetch", fatal.Stage)
}

func TestSelectProvider(t *testing.T) {
	require := require.New(t)
	rng := mRand.New(mRand.NewSource(1))

	_, err := SelectProvider(rng, new(topology.Topology))
	require.ErrorIs(err, topology.ErrNoProviders)

	topo := &topology.Topology{
		MixProviderNodes: []topology.ProviderPresence{
			{ClientListener: "10.0.0.1:9000"},
			{ClientListener: "10.0.0.2:9000"},
		},
	}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		p, err := SelectProvider(rng, topo)
		require.NoError(err)
		seen[p.ClientListener] = true
	}
	require.Len(seen, 2)
}
