// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"fmt"
	mRand "math/rand"
	"sync/atomic"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixclient/client/internal/instrument"
	"github.com/katzenpost/mixclient/client/transport"
	"github.com/katzenpost/mixclient/core/log"
	"github.com/katzenpost/mixclient/core/packet"
	"github.com/katzenpost/mixclient/core/path"
	"github.com/katzenpost/mixclient/core/topology"
)

const (
	defaultQueueLength      = 64
	defaultTickInterval     = time.Second
	defaultStartOffset      = time.Microsecond
	defaultTransportTimeout = 5 * time.Second
)

// State is the dispatch loop state.
type State int32

const (
	// StateIdle is waiting for the next tick.
	StateIdle State = iota

	// StateBuilding is assembling the payload, route and delays of a packet.
	StateBuilding

	// StateSending is constructing the packet and handing it to the first hop.
	StateSending

	// StateMaybeRetrieving is draining the provider mailbox.
	StateMaybeRetrieving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateBuilding:
		return "Building"
	case StateSending:
		return "Sending"
	case StateMaybeRetrieving:
		return "MaybeRetrieving"
	default:
		return fmt.Sprintf("[Unknown state: %d]", s)
	}
}

// MessageSink receives the messages pulled from the provider mailbox and
// returns how many of them were new.
type MessageSink interface {
	Deliver(msgs [][]byte) (int, error)
}

// DispatcherConfig holds the collaborators and policy of a Dispatcher.
type DispatcherConfig struct {
	// Topology is the layered topology routes are drawn from.
	Topology *topology.Layered

	// Destination is the recipient of every packet.
	Destination path.Destination

	Builder   packet.Builder
	Delays    packet.DelayGenerator
	Sender    transport.MixSender
	Retriever transport.Retriever

	// Sink optionally stores retrieved messages.
	Sink MessageSink

	// Rng drives route selection.  If nil a crypto seeded one is used.
	Rng *mRand.Rand

	// Ticks replaces the internal timer when set.
	Ticks <-chan time.Time

	TickInterval time.Duration
	StartOffset  time.Duration

	// RetrieveEvery is the number of successful sends between mailbox
	// retrievals.  Zero disables retrieval.
	RetrieveEvery int

	// MaxConsecutiveFailures stops the loop after that many route or
	// packet failures with no successful send in between.  Zero or less
	// disables the limit.
	MaxConsecutiveFailures int

	SendTimeout     time.Duration
	RetrieveTimeout time.Duration

	// QueueLength bounds the payloads waiting in Send.
	QueueLength int

	LogBackend *log.Backend
}

func (cfg *DispatcherConfig) validate() error {
	switch {
	case cfg.Topology == nil || cfg.Topology.Len() == 0:
		return errors.New("client: dispatcher requires a topology")
	case cfg.Builder == nil:
		return errors.New("client: dispatcher requires a packet builder")
	case cfg.Delays == nil:
		return errors.New("client: dispatcher requires a delay generator")
	case cfg.Sender == nil:
		return errors.New("client: dispatcher requires a mix sender")
	case cfg.RetrieveEvery > 0 && cfg.Retriever == nil:
		return errors.New("client: dispatcher requires a retriever")
	case cfg.LogBackend == nil:
		return errors.New("client: dispatcher requires a log backend")
	}
	if cfg.Rng == nil {
		cfg.Rng = rand.NewMath()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.StartOffset <= 0 {
		cfg.StartOffset = defaultStartOffset
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultTransportTimeout
	}
	if cfg.RetrieveTimeout <= 0 {
		cfg.RetrieveTimeout = defaultTransportTimeout
	}
	if cfg.QueueLength <= 0 {
		cfg.QueueLength = defaultQueueLength
	}
	return nil
}

// Dispatcher is the timed send and retrieve loop.  Each tick either sends
// one packet, or, on the tick following every RetrieveEvery-th successful
// send, drains the provider mailbox.  Ticks never overlap.
type Dispatcher struct {
	cfg *DispatcherConfig
	log *logging.Logger

	ingressCh chan []byte
	pending   []byte

	state    atomic.Int32
	sent     atomic.Uint64
	failures int
}

// NewDispatcher returns a Dispatcher for cfg.
func NewDispatcher(cfg *DispatcherConfig) (*Dispatcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Dispatcher{
		cfg:       cfg,
		log:       cfg.LogBackend.GetLogger("client/dispatch"),
		ingressCh: make(chan []byte, cfg.QueueLength),
	}, nil
}

// State returns the current loop state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Sent returns the number of packets accepted by a first hop so far.
func (d *Dispatcher) Sent() uint64 {
	return d.sent.Load()
}

// Send queues payload for a later tick.  Ticks with nothing queued send a
// cover payload instead.
func (d *Dispatcher) Send(payload []byte) error {
	b := make([]byte, len(payload))
	copy(b, payload)
	select {
	case d.ingressCh <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) setState(s State) {
	d.state.Store(int32(s))
}

// Run drives the loop until ctx is done, returning nil, or until the
// failure limit is hit, returning an error wrapping ErrTooManyFailures.
// Only route and packet failures count toward the limit.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.setState(StateIdle)
	defer d.log.Debug("Dispatcher halted")

	tickCh := d.cfg.Ticks
	var ticker *time.Ticker
	if tickCh == nil {
		start := time.NewTimer(d.cfg.StartOffset)
		defer start.Stop()
		tickCh = start.C
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	retrieveDue := false
	for {
		d.setState(StateIdle)
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-tickCh:
			if !ok {
				return nil
			}
		}
		if d.cfg.Ticks == nil && ticker == nil {
			ticker = time.NewTicker(d.cfg.TickInterval)
			tickCh = ticker.C
		}

		var err error
		if retrieveDue {
			retrieveDue = false
			err = d.retrieveTick(ctx)
		} else {
			err = d.sendTick(ctx)
			if err == nil && d.cfg.RetrieveEvery > 0 && d.Sent()%uint64(d.cfg.RetrieveEvery) == 0 {
				retrieveDue = true
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			d.failures = 0
			continue
		}

		// Transport and mailbox failures are retried on the following
		// ticks for as long as they last.
		var tickErr *TickError
		if errors.As(err, &tickErr) && !tickErr.Misconfiguration() {
			continue
		}
		d.failures++
		if d.cfg.MaxConsecutiveFailures > 0 && d.failures >= d.cfg.MaxConsecutiveFailures {
			return fmt.Errorf("%w (%d): %w", ErrTooManyFailures, d.failures, err)
		}
	}
}

func (d *Dispatcher) nextPayload() []byte {
	if d.pending != nil {
		return d.pending
	}
	select {
	case b := <-d.ingressCh:
		d.pending = b
		return b
	default:
		return []byte(fmt.Sprintf("Hello, Sphinx %d", d.Sent()))
	}
}

func (d *Dispatcher) sendTick(ctx context.Context) error {
	d.setState(StateBuilding)
	payload := d.nextPayload()
	route, err := path.New(d.cfg.Rng, d.cfg.Topology)
	if err != nil {
		instrument.TickFailure(instrument.StageRoute)
		d.log.Warningf("Failed to select route: %v", err)
		return &TickError{Stage: instrument.StageRoute, Err: err}
	}
	dst := d.cfg.Destination
	delays := d.cfg.Delays.Generate(len(route))

	d.setState(StateSending)
	pkt, err := d.cfg.Builder.Build(payload, route, &dst, delays)
	if err != nil {
		instrument.TickFailure(instrument.StagePacket)
		if d.pending != nil {
			d.log.Warningf("Dropping queued payload, failed to build packet: %v", err)
			d.pending = nil
		} else {
			d.log.Warningf("Failed to build packet: %v", err)
		}
		return &TickError{Stage: instrument.StagePacket, Err: err}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err = d.cfg.Sender.Send(sendCtx, pkt, route.FirstHop())
	cancel()
	if err != nil {
		instrument.SendFailure()
		instrument.TickFailure(instrument.StageSend)
		d.log.Warningf("Failed to send packet to %v: %v", route.FirstHop().Address.String(), err)
		return &TickError{Stage: instrument.StageSend, Err: err}
	}

	d.pending = nil
	n := d.sent.Add(1)
	instrument.PacketSent()
	d.log.Infof("Sent packet %d", n)
	if d.log.IsEnabledFor(logging.DEBUG) {
		for _, hop := range route.Strings() {
			d.log.Debug(hop)
		}
	}
	return nil
}

func (d *Dispatcher) retrieveTick(ctx context.Context) error {
	d.setState(StateMaybeRetrieving)
	retrieveCtx, cancel := context.WithTimeout(ctx, d.cfg.RetrieveTimeout)
	msgs, err := d.cfg.Retriever.Retrieve(retrieveCtx)
	cancel()
	if err != nil {
		instrument.TickFailure(instrument.StageRetrieve)
		d.log.Warningf("Failed to retrieve messages: %v", err)
		return &TickError{Stage: instrument.StageRetrieve, Err: err}
	}
	instrument.Retrieved(len(msgs))
	d.log.Infof("Retrieved %d messages", len(msgs))

	if d.cfg.Sink == nil || len(msgs) == 0 {
		return nil
	}
	fresh, err := d.cfg.Sink.Deliver(msgs)
	if err != nil {
		instrument.TickFailure(instrument.StageRetrieve)
		d.log.Warningf("Failed to store retrieved messages: %v", err)
		return &TickError{Stage: instrument.StageRetrieve, Err: err}
	}
	d.log.Debugf("Stored %d new messages", fresh)
	return nil
}
