// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const (
	// ProxyTypeNone dials directly.
	ProxyTypeNone = "none"

	// ProxyTypeSOCKS5 dials through a SOCKS5 proxy.
	ProxyTypeSOCKS5 = "socks5"

	keepAliveInterval = 3 * time.Minute
	connectTimeout    = 1 * time.Minute
)

// ContextDialer is the dialer used by every stream transport.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ProxyConfig is the outgoing connection proxy configuration.
type ProxyConfig struct {
	Type     string
	Network  string
	Address  string
	User     string
	Password string
}

// FixupAndValidate applies defaults and validates the proxy configuration.
func (c *ProxyConfig) FixupAndValidate() error {
	c.Type = strings.ToLower(c.Type)
	switch c.Type {
	case "", ProxyTypeNone:
		c.Type = ProxyTypeNone
		return nil
	case ProxyTypeSOCKS5:
	default:
		return fmt.Errorf("transport: invalid proxy type: '%v'", c.Type)
	}

	if c.Network == "" {
		c.Network = "tcp"
	}
	switch c.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("transport: invalid proxy network: '%v'", c.Network)
	}
	if c.Address == "" {
		return errors.New("transport: proxy address not set")
	}
	if c.Password != "" && c.User == "" {
		return errors.New("transport: proxy password set without user")
	}
	return nil
}

// NewDialer returns a dialer honouring cfg.  A nil cfg dials directly.
func NewDialer(cfg *ProxyConfig) (ContextDialer, error) {
	direct := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: keepAliveInterval,
	}
	if cfg == nil || cfg.Type == "" || cfg.Type == ProxyTypeNone {
		return direct, nil
	}
	if cfg.Type != ProxyTypeSOCKS5 {
		return nil, fmt.Errorf("transport: invalid proxy type: '%v'", cfg.Type)
	}

	var auth *proxy.Auth
	if cfg.User != "" {
		auth = &proxy.Auth{
			User:     cfg.User,
			Password: cfg.Password,
		}
	}
	d, err := proxy.SOCKS5(cfg.Network, cfg.Address, auth, direct)
	if err != nil {
		return nil, err
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("transport: proxy dialer does not support contexts")
	}
	return cd, nil
}
