// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package instrument

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tick stages reported by TickFailure.
const (
	StageRoute    = "route"
	StagePacket   = "packet"
	StageSend     = "send"
	StageRetrieve = "retrieve"
)

var (
	packetsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mixclient_packets_sent_total",
			Help: "Number of packets handed to the first hop",
		},
	)
	sendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mixclient_send_failures_total",
			Help: "Number of packets the first hop did not accept",
		},
	)
	tickFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixclient_tick_failures_total",
			Help: "Number of failed dispatch ticks per stage",
		},
		[]string{"stage"},
	)
	retrievals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mixclient_retrievals_total",
			Help: "Number of successful mailbox retrievals",
		},
	)
	retrievedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mixclient_retrieved_messages_total",
			Help: "Number of messages pulled from the mailbox",
		},
	)
)

func init() {
	prometheus.MustRegister(packetsSent)
	prometheus.MustRegister(sendFailures)
	prometheus.MustRegister(tickFailures)
	prometheus.MustRegister(retrievals)
	prometheus.MustRegister(retrievedMessages)
}

// PacketSent increments the counter for sent packets.
func PacketSent() {
	packetsSent.Inc()
}

// SendFailure increments the counter for failed sends.
func SendFailure() {
	sendFailures.Inc()
}

// TickFailure increments the failed tick counter for stage.
func TickFailure(stage string) {
	tickFailures.With(prometheus.Labels{"stage": stage}).Inc()
}

// Retrieved records a successful retrieval of n messages.
func Retrieved(n int) {
	retrievals.Inc()
	retrievedMessages.Add(float64(n))
}

// Listener is a running metrics endpoint.
type Listener struct {
	srv *http.Server
	l   net.Listener
}

// Addr returns the address the endpoint is bound to.
func (l *Listener) Addr() net.Addr {
	return l.l.Addr()
}

// Shutdown stops the endpoint.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.srv.Shutdown(ctx)
}

// StartListener serves the registered metrics on address.  Server errors are
// written to errorLog.
func StartListener(address string, errorLog io.Writer) (*Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(errorLog, "", 0),
	}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.ErrorLog.Printf("metrics listener: %v", err)
		}
	}()
	return &Listener{srv: srv, l: l}, nil
}
