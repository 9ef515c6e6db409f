// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixclient/core/addr"
	"github.com/katzenpost/mixclient/core/log"
)

// StatusOK is the PullResponse status of a successful retrieval.
const StatusOK = 0

// Retriever drains the client's mailbox.
type Retriever interface {
	Retrieve(ctx context.Context) ([][]byte, error)
}

// PullRequest asks a provider for the queued messages of a mailbox.
type PullRequest struct {
	Address   []byte
	ClientID  string
	AuthToken []byte
}

// PullResponse carries the messages drained from a mailbox.
type PullResponse struct {
	Status   uint8
	Messages [][]byte
}

// ProviderError is returned when a provider rejects a pull request.
type ProviderError struct {
	Status uint8
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("transport: provider returned status %d", e.Status)
}

// ProviderClient pulls messages from a provider's client listener.
type ProviderClient struct {
	dialer  ContextDialer
	address string
	request []byte

	dec cbor.DecMode
	log *logging.Logger
}

// NewProviderClient returns a client for the provider listening on
// address ("ip:port"), pulling the mailbox of mailbox/clientID.
func NewProviderClient(dialer ContextDialer, address string, mailbox *addr.Address, clientID string, authToken []byte, logBackend *log.Backend) (*ProviderClient, error) {
	if _, err := addr.EncodeAddress(address); err != nil {
		return nil, err
	}
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	req, err := enc.Marshal(&PullRequest{
		Address:   mailbox[:],
		ClientID:  clientID,
		AuthToken: authToken,
	})
	if err != nil {
		return nil, err
	}
	return &ProviderClient{
		dialer:  dialer,
		address: address,
		request: req,
		dec:     dec,
		log:     logBackend.GetLogger("client/transport:provider"),
	}, nil
}

// Address returns the provider's client listener address.
func (c *ProviderClient) Address() string {
	return c.address
}

// Retrieve implements Retriever.
func (c *ProviderClient) Retrieve(ctx context.Context) ([][]byte, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to dial provider %v: %w", c.address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}
	if err := writeFrame(conn, c.request); err != nil {
		return nil, fmt.Errorf("transport: failed to send pull request: %w", err)
	}
	raw, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("transport: failed to read pull response: %w", err)
	}

	resp := new(PullResponse)
	if err := c.dec.Unmarshal(raw, resp); err != nil {
		return nil, fmt.Errorf("transport: malformed pull response: %w", err)
	}
	if resp.Status != StatusOK {
		return nil, &ProviderError{Status: resp.Status}
	}
	c.log.Debugf("Retrieved %d messages from %v", len(resp.Messages), c.address)
	return resp.Messages, nil
}
