// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package topology holds the network topology as advertised by the
// directory server and groups its mix nodes into routing layers.
package topology

// MixNodePresence is one advertised mix node.
type MixNodePresence struct {
	// Host is the node's "ip:port" mixnet listener.
	Host string `json:"host"`

	// PubKey is the URL-safe base64 encoding of the node's X25519 key.
	PubKey string `json:"pubKey"`

	// Layer is the 1-based position of the node in a route.
	Layer uint64 `json:"layer"`

	LastSeen int64  `json:"lastSeen"`
	Version  string `json:"version"`
}

// RegisteredClient is a client holding a mailbox on a provider.
type RegisteredClient struct {
	PubKey string `json:"pubKey"`
}

// ProviderPresence is one advertised provider node.
type ProviderPresence struct {
	// ClientListener is the "ip:port" clients pull their mailbox from.
	ClientListener string `json:"clientListener"`

	// MixnetListener is the "ip:port" the final mix hop delivers to.
	MixnetListener string `json:"mixnetListener"`

	PubKey            string             `json:"pubKey"`
	RegisteredClients []RegisteredClient `json:"registeredClients"`
	LastSeen          int64              `json:"lastSeen"`
	Version           string             `json:"version"`
}

// Topology is one snapshot of the directory's presence document.  It is
// never mutated after it has been fetched.
type Topology struct {
	MixNodes         []MixNodePresence  `json:"mixNodes"`
	MixProviderNodes []ProviderPresence `json:"mixProviderNodes"`
}
