// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client provides the mix network client: it fetches the topology,
// then sends a packet along a freshly selected route on every tick and
// periodically drains its provider mailbox.
package client

import (
	"context"
	"errors"
	mRand "math/rand"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixclient/client/config"
	"github.com/katzenpost/mixclient/client/inbox"
	"github.com/katzenpost/mixclient/client/internal/instrument"
	"github.com/katzenpost/mixclient/client/internal/profiling"
	"github.com/katzenpost/mixclient/client/transport"
	"github.com/katzenpost/mixclient/core/log"
	"github.com/katzenpost/mixclient/core/packet"
	"github.com/katzenpost/mixclient/core/topology"
	"github.com/katzenpost/mixclient/core/worker"
)

// Client sends and receives messages over the mix network.
type Client struct {
	worker.Worker

	cfg        *config.Config
	logBackend *log.Backend
	log        *logging.Logger
	haltOnce   sync.Once

	dispatcher    *Dispatcher
	inbox         *inbox.Inbox
	metrics       *instrument.Listener
	stopProfiling func() error

	errCh chan error
}

// SelectProvider returns a provider drawn uniformly from t.
func SelectProvider(rng *mRand.Rand, t *topology.Topology) (*topology.ProviderPresence, error) {
	if len(t.MixProviderNodes) == 0 {
		return nil, topology.ErrNoProviders
	}
	return &t.MixProviderNodes[rng.Intn(len(t.MixProviderNodes))], nil
}

// FetchTopology fetches the current topology from the configured directory.
func FetchTopology(ctx context.Context, cfg *config.Config, local bool, logBackend *log.Backend) (*topology.Topology, error) {
	timeout := time.Duration(cfg.Directory.FetchTimeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpClient := &http.Client{Timeout: timeout}
	if cfg.UpstreamProxyConfig().Type != transport.ProxyTypeNone {
		dialer, err := transport.NewDialer(cfg.UpstreamProxyConfig())
		if err != nil {
			return nil, err
		}
		httpClient.Transport = &http.Transport{
			DialContext: dialer.DialContext,
		}
	}
	return topology.NewDirectory(cfg.DirectoryURL(local), httpClient, logBackend).Fetch(ctx)
}

// New fetches the topology and wires up a Client for cfg.  local selects
// the local directory.  Every error returned is a *FatalError.
func New(ctx context.Context, cfg *config.Config, local bool) (*Client, error) {
	c := &Client{
		cfg:   cfg,
		errCh: make(chan error, 1),
	}
	if err := c.initLogging(); err != nil {
		return nil, &FatalError{Stage: "logging", Err: err}
	}
	if err := c.init(ctx, local); err != nil {
		c.closeResources()
		return nil, err
	}
	return c, nil
}

func (c *Client) initLogging() error {
	f := c.cfg.Logging.File
	if !c.cfg.Logging.Disable && f != "" && !filepath.IsAbs(f) {
		return errors.New("log file path must be absolute path")
	}

	var err error
	c.logBackend, err = log.New(f, c.cfg.Logging.Level, c.cfg.Logging.Disable)
	if err == nil {
		c.log = c.logBackend.GetLogger("client")
	}
	return err
}

func (c *Client) init(ctx context.Context, local bool) error {
	var err error
	if c.stopProfiling, err = profiling.Start(c.log); err != nil {
		return &FatalError{Stage: "profiling", Err: err}
	}

	c.log.Noticef("Fetching topology from %v", c.cfg.DirectoryURL(local))
	doc, err := FetchTopology(ctx, c.cfg, local, c.logBackend)
	if err != nil {
		return &FatalError{Stage: "topology fetch", Err: err}
	}
	layered, err := topology.Build(doc)
	if err != nil {
		return &FatalError{Stage: "topology", Err: err}
	}
	c.log.Noticef("Topology has %d layers, %d providers", layered.Len(), len(doc.MixProviderNodes))

	rng := rand.NewMath()
	providerAddr := c.cfg.Provider.Address
	if providerAddr == "" {
		provider, err := SelectProvider(rng, doc)
		if err != nil {
			return &FatalError{Stage: "provider", Err: err}
		}
		providerAddr = provider.ClientListener
	}
	c.log.Noticef("Using provider %v", providerAddr)

	dialer, err := transport.NewDialer(c.cfg.UpstreamProxyConfig())
	if err != nil {
		return &FatalError{Stage: "transport", Err: err}
	}
	var sender transport.MixSender
	switch c.cfg.Dispatch.Transport {
	case config.TransportQUIC:
		sender = transport.NewQUICMixSender(c.logBackend)
	default:
		sender = transport.NewTCPMixSender(dialer, c.logBackend)
	}

	dst := c.cfg.DestinationValue()
	retriever, err := transport.NewProviderClient(dialer, providerAddr, &dst.Address, c.cfg.Provider.ClientID, c.cfg.Provider.AuthTokenBytes(), c.logBackend)
	if err != nil {
		return &FatalError{Stage: "provider", Err: err}
	}
	builder, err := packet.NewFrameBuilder(c.cfg.Dispatch.PayloadLength)
	if err != nil {
		return &FatalError{Stage: "packet", Err: err}
	}

	var sink MessageSink
	if c.cfg.Inbox.File != "" {
		if c.inbox, err = inbox.New(c.cfg.Inbox.File, c.logBackend); err != nil {
			return &FatalError{Stage: "inbox", Err: err}
		}
		sink = c.inbox
	}

	if c.cfg.Metrics.Address != "" {
		errLog, err := c.logBackend.GetLogWriter("client/metrics", "WARNING")
		if err != nil {
			return &FatalError{Stage: "metrics", Err: err}
		}
		if c.metrics, err = instrument.StartListener(c.cfg.Metrics.Address, errLog); err != nil {
			return &FatalError{Stage: "metrics", Err: err}
		}
		c.log.Noticef("Serving metrics on %v", c.metrics.Addr())
	}

	dCfg := c.cfg.Dispatch
	c.dispatcher, err = NewDispatcher(&DispatcherConfig{
		Topology:               layered,
		Destination:            dst,
		Builder:                builder,
		Delays:                 packet.NewExpDelays(rand.NewMath(), dCfg.Mu, dCfg.MaxDelay),
		Sender:                 sender,
		Retriever:              retriever,
		Sink:                   sink,
		Rng:                    rng,
		TickInterval:           dCfg.TickPeriod(),
		StartOffset:            dCfg.FirstTickOffset(),
		RetrieveEvery:          dCfg.RetrieveEvery,
		MaxConsecutiveFailures: dCfg.MaxConsecutiveFailures,
		SendTimeout:            time.Duration(dCfg.SendTimeout) * time.Millisecond,
		RetrieveTimeout:        time.Duration(dCfg.RetrieveTimeout) * time.Millisecond,
		LogBackend:             c.logBackend,
	})
	if err != nil {
		return &FatalError{Stage: "dispatch", Err: err}
	}
	return nil
}

// Start starts the dispatch loop.
func (c *Client) Start() {
	c.Go(func() {
		err := c.dispatcher.Run(c.Context())
		if err != nil {
			c.log.Errorf("Dispatch loop failed: %v", err)
		}
		c.errCh <- err
		close(c.errCh)
	})
}

// Send queues payload to be sent instead of the next cover packet.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.HaltCh():
		return ErrShutdown
	default:
	}
	return c.dispatcher.Send(payload)
}

// Inbox returns the message store, or nil if none is configured.  It may be
// called concurrently with Shutdown, after which the store is closed and
// its methods return errors.
func (c *Client) Inbox() *inbox.Inbox {
	return c.inbox
}

// Wait blocks until the dispatch loop exits and returns its error.  The
// error is nil if the loop was stopped by Shutdown.
func (c *Client) Wait() error {
	err := <-c.errCh
	c.Shutdown()
	return err
}

// Shutdown cleanly shuts down a given Client instance.
func (c *Client) Shutdown() {
	c.haltOnce.Do(c.halt)
}

func (c *Client) halt() {
	c.log.Noticef("Starting graceful shutdown.")
	c.Halt()
	c.closeResources()
	c.log.Noticef("Shutdown complete.")
}

func (c *Client) closeResources() {
	if c.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := c.metrics.Shutdown(ctx); err != nil {
			c.log.Warningf("Failed to stop metrics listener: %v", err)
		}
		cancel()
	}
	if c.inbox != nil {
		if err := c.inbox.Close(); err != nil {
			c.log.Warningf("Failed to close inbox: %v", err)
		}
	}
	if c.stopProfiling != nil {
		if err := c.stopProfiling(); err != nil {
			c.log.Warningf("Failed to stop profiler: %v", err)
		}
	}
}

// Run runs a client until ctx is done or the dispatch loop gives up.  It
// only returns nil after ctx is done.
func Run(ctx context.Context, cfg *config.Config, local bool) error {
	c, err := New(ctx, cfg, local)
	if err != nil {
		return err
	}
	c.Start()

	go func() {
		select {
		case <-ctx.Done():
			c.log.Notice("Received shutdown request.")
			c.Shutdown()
		case <-c.HaltCh():
		}
	}()
	return c.Wait()
}
