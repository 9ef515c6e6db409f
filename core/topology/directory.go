// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package topology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixclient/core/log"
)

const (
	presenceTopologyPath = "/api/presence/topology"

	// maxDocumentSize bounds the size of the presence document we will read.
	maxDocumentSize = 16 << 20
)

// Directory is a client for the directory server's presence API.
type Directory struct {
	baseURL string
	client  *http.Client
	log     *logging.Logger
}

// NewDirectory returns a Directory for baseURL.  If client is nil
// http.DefaultClient is used.
func NewDirectory(baseURL string, client *http.Client, logBackend *log.Backend) *Directory {
	if client == nil {
		client = http.DefaultClient
	}
	return &Directory{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		log:     logBackend.GetLogger("topology"),
	}
}

// Fetch retrieves the current topology with a single GET request.  There is
// no retry: the caller decides whether a failure is fatal.
func (d *Directory) Fetch(ctx context.Context) (*Topology, error) {
	url := d.baseURL + presenceTopologyPath
	d.log.Noticef("Using directory server: %v", d.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("topology: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("topology: failed to fetch %v: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("topology: directory returned %v", resp.Status)
	}

	t := new(Topology)
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentSize))
	if err := dec.Decode(t); err != nil {
		return nil, fmt.Errorf("topology: failed to decode presence document: %w", err)
	}
	d.log.Debugf("Fetched topology: %d mix nodes, %d providers", len(t.MixNodes), len(t.MixProviderNodes))
	return t, nil
}
