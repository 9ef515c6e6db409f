// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config implements the configuration for the mix client.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/secure/precis"

	"github.com/katzenpost/mixclient/client/transport"
	"github.com/katzenpost/mixclient/core/addr"
	"github.com/katzenpost/mixclient/core/path"
)

const (
	// LocalDirectoryURL is the directory of a local test deployment.
	LocalDirectoryURL = "http://localhost:8080"

	// DefaultDirectoryURL is the production directory.
	DefaultDirectoryURL = "https://directory.nymtech.net"

	// TransportTCP sends packets to the first hop over TCP.
	TransportTCP = "tcp"

	// TransportQUIC sends packets to the first hop over QUIC.
	TransportQUIC = "quic"

	defaultLogLevel               = "NOTICE"
	defaultFetchTimeout           = 30
	defaultTickInterval           = 1000
	defaultStartOffset            = 1000
	defaultRetrieveEvery          = 3
	defaultMaxConsecutiveFailures = 16
	defaultSendTimeout            = 5000
	defaultRetrieveTimeout        = 5000
	defaultPayloadLength          = 1024
	defaultMu                     = 0.005
	defaultMaxDelay               = 3000
	defaultClientID               = "mixclient"
)

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Directory is the directory server configuration.
type Directory struct {
	// URL is the production directory base URL.
	URL string

	// LocalURL is the directory base URL used for local deployments.
	LocalURL string

	// FetchTimeout is the number of seconds the topology fetch may take.
	FetchTimeout int
}

func (dCfg *Directory) validate() error {
	if dCfg.URL == "" {
		dCfg.URL = DefaultDirectoryURL
	}
	if dCfg.LocalURL == "" {
		dCfg.LocalURL = LocalDirectoryURL
	}
	if dCfg.FetchTimeout == 0 {
		dCfg.FetchTimeout = defaultFetchTimeout
	}
	if dCfg.FetchTimeout < 0 {
		return fmt.Errorf("config: Directory: FetchTimeout %v is invalid", dCfg.FetchTimeout)
	}
	return nil
}

// Dispatch is the packet dispatch loop configuration.
type Dispatch struct {
	// TickInterval is the send period in milliseconds.
	TickInterval int

	// StartOffset is the delay before the first tick in nanoseconds.
	StartOffset int

	// RetrieveEvery is the number of successful sends between mailbox
	// retrievals.
	RetrieveEvery int

	// MaxConsecutiveFailures is the number of route or packet failures,
	// with no successful send in between, after which the loop gives up.
	// Send and retrieve failures never count.  A negative value disables
	// the limit.
	MaxConsecutiveFailures int

	// SendTimeout bounds a send to the first hop, in milliseconds.
	SendTimeout int

	// RetrieveTimeout bounds a mailbox retrieval, in milliseconds.
	RetrieveTimeout int

	// PayloadLength is the fixed packet payload length in bytes.
	PayloadLength int

	// Mu is the exponential per-hop delay rate, per millisecond.
	Mu float64

	// MaxDelay caps a per-hop delay, in milliseconds.
	MaxDelay uint64

	// Transport is the first hop transport, "tcp" or "quic".
	Transport string
}

func (d *Dispatch) fixup() {
	if d.TickInterval == 0 {
		d.TickInterval = defaultTickInterval
	}
	if d.StartOffset == 0 {
		d.StartOffset = defaultStartOffset
	}
	if d.RetrieveEvery == 0 {
		d.RetrieveEvery = defaultRetrieveEvery
	}
	if d.MaxConsecutiveFailures == 0 {
		d.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
	if d.SendTimeout == 0 {
		d.SendTimeout = defaultSendTimeout
	}
	if d.RetrieveTimeout == 0 {
		d.RetrieveTimeout = defaultRetrieveTimeout
	}
	if d.PayloadLength == 0 {
		d.PayloadLength = defaultPayloadLength
	}
	if d.Mu == 0 {
		d.Mu = defaultMu
	}
	if d.MaxDelay == 0 {
		d.MaxDelay = defaultMaxDelay
	}
	if d.Transport == "" {
		d.Transport = TransportTCP
	}
	d.Transport = strings.ToLower(d.Transport)
}

func (d *Dispatch) validate() error {
	switch {
	case d.TickInterval < 0:
		return fmt.Errorf("config: Dispatch: TickInterval %v is invalid", d.TickInterval)
	case d.StartOffset < 0:
		return fmt.Errorf("config: Dispatch: StartOffset %v is invalid", d.StartOffset)
	case d.RetrieveEvery < 0:
		return fmt.Errorf("config: Dispatch: RetrieveEvery %v is invalid", d.RetrieveEvery)
	case d.SendTimeout < 0 || d.RetrieveTimeout < 0:
		return errors.New("config: Dispatch: timeouts must be positive")
	case d.PayloadLength < 0 || d.PayloadLength > transport.MaxFrameLength/2:
		return fmt.Errorf("config: Dispatch: PayloadLength %v is invalid", d.PayloadLength)
	case d.Mu < 0:
		return fmt.Errorf("config: Dispatch: Mu %v is invalid", d.Mu)
	}
	switch d.Transport {
	case TransportTCP, TransportQUIC:
	default:
		return fmt.Errorf("config: Dispatch: Transport '%v' is invalid", d.Transport)
	}
	return nil
}

// TickPeriod returns TickInterval as a time.Duration.
func (d *Dispatch) TickPeriod() time.Duration {
	return time.Duration(d.TickInterval) * time.Millisecond
}

// FirstTickOffset returns StartOffset as a time.Duration.
func (d *Dispatch) FirstTickOffset() time.Duration {
	return time.Duration(d.StartOffset)
}

// Destination is the recipient all packets are addressed to.
type Destination struct {
	// Address is the URL-safe base64 32 byte recipient address.
	Address string

	// Identifier is the URL-safe base64 16 byte recipient identifier.
	Identifier string

	dst path.Destination
}

func (dCfg *Destination) validate() error {
	dCfg.dst = path.PlaceholderDestination()
	if dCfg.Address != "" {
		raw, err := base64.URLEncoding.DecodeString(dCfg.Address)
		if err != nil || len(raw) != addr.AddressLength {
			return fmt.Errorf("config: Destination: Address '%v' is invalid", dCfg.Address)
		}
		copy(dCfg.dst.Address[:], raw)
	}
	if dCfg.Identifier != "" {
		raw, err := base64.URLEncoding.DecodeString(dCfg.Identifier)
		if err != nil || len(raw) != path.DestinationIdentifierLength {
			return fmt.Errorf("config: Destination: Identifier '%v' is invalid", dCfg.Identifier)
		}
		copy(dCfg.dst.Identifier[:], raw)
	}
	return nil
}

// Provider is the mailbox provider configuration.
type Provider struct {
	// Address optionally pins the provider's "ip:port" client listener.
	// If empty a provider is picked at random from the topology.
	Address string

	// ClientID is the mailbox user name.
	ClientID string

	// AuthToken is the optional base64 authentication token.
	AuthToken string

	authToken []byte
}

func (pCfg *Provider) validate() error {
	if pCfg.Address != "" {
		if _, err := addr.EncodeAddress(pCfg.Address); err != nil {
			return fmt.Errorf("config: Provider: %v", err)
		}
	}
	if pCfg.ClientID == "" {
		pCfg.ClientID = defaultClientID
	}
	id, err := precis.UsernameCaseMapped.String(pCfg.ClientID)
	if err != nil {
		return fmt.Errorf("config: Provider: ClientID '%v' is invalid: %v", pCfg.ClientID, err)
	}
	pCfg.ClientID = id
	if pCfg.AuthToken != "" {
		if pCfg.authToken, err = base64.StdEncoding.DecodeString(pCfg.AuthToken); err != nil {
			return fmt.Errorf("config: Provider: AuthToken is invalid: %v", err)
		}
	}
	return nil
}

// AuthTokenBytes returns the decoded AuthToken, or nil.
func (pCfg *Provider) AuthTokenBytes() []byte {
	return pCfg.authToken
}

// UpstreamProxy is the outgoing connection proxy configuration.
type UpstreamProxy struct {
	// Type is the proxy type (Eg: "none", "socks5").
	Type string

	// Network is the proxy address' network (`unix`, `tcp`).
	Network string

	// Address is the proxy's address.
	Address string

	// User is the optional proxy username.
	User string

	// Password is the optional proxy password.
	Password string
}

func (uCfg *UpstreamProxy) toProxyConfig() (*transport.ProxyConfig, error) {
	cfg := &transport.ProxyConfig{}
	if uCfg != nil {
		cfg.Type = uCfg.Type
		cfg.Network = uCfg.Network
		cfg.Address = uCfg.Address
		cfg.User = uCfg.User
		cfg.Password = uCfg.Password
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Inbox is the retrieved message store configuration.
type Inbox struct {
	// File is the bbolt database path.  If empty retrieved messages are
	// only logged.
	File string
}

// Metrics is the prometheus endpoint configuration.
type Metrics struct {
	// Address is the "ip:port" to serve /metrics on.  Empty disables it.
	Address string
}

func (mCfg *Metrics) validate() error {
	if mCfg.Address == "" {
		return nil
	}
	if _, err := netip.ParseAddrPort(mCfg.Address); err != nil {
		return fmt.Errorf("config: Metrics: Address '%v' is invalid: %v", mCfg.Address, err)
	}
	return nil
}

// Config is the top level client configuration.
type Config struct {
	Logging       *Logging
	Directory     *Directory
	Dispatch      *Dispatch
	Destination   *Destination
	Provider      *Provider
	UpstreamProxy *UpstreamProxy
	Inbox         *Inbox
	Metrics       *Metrics

	upstreamProxy *transport.ProxyConfig
}

// UpstreamProxyConfig returns the validated upstream proxy configuration.
func (c *Config) UpstreamProxyConfig() *transport.ProxyConfig {
	return c.upstreamProxy
}

// DirectoryURL returns the directory to use, the local one if local is set.
func (c *Config) DirectoryURL(local bool) string {
	if local {
		return c.Directory.LocalURL
	}
	return c.Directory.URL
}

// DestinationValue returns the recipient of every packet.
func (c *Config) DestinationValue() path.Destination {
	return c.Destination.dst
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections.
func (c *Config) FixupAndValidate() error {
	if c.Logging == nil {
		c.Logging = new(Logging)
	}
	if c.Directory == nil {
		c.Directory = new(Directory)
	}
	if c.Dispatch == nil {
		c.Dispatch = new(Dispatch)
	}
	if c.Destination == nil {
		c.Destination = new(Destination)
	}
	if c.Provider == nil {
		c.Provider = new(Provider)
	}
	if c.Inbox == nil {
		c.Inbox = new(Inbox)
	}
	if c.Metrics == nil {
		c.Metrics = new(Metrics)
	}
	c.Dispatch.fixup()

	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Directory.validate(); err != nil {
		return err
	}
	if err := c.Dispatch.validate(); err != nil {
		return err
	}
	if err := c.Destination.validate(); err != nil {
		return err
	}
	if err := c.Provider.validate(); err != nil {
		return err
	}
	if err := c.Metrics.validate(); err != nil {
		return err
	}

	pCfg, err := c.UpstreamProxy.toProxyConfig()
	if err != nil {
		return fmt.Errorf("config: UpstreamProxy: %v", err)
	}
	if pCfg.Type != transport.ProxyTypeNone && c.Dispatch.Transport == TransportQUIC {
		return errors.New("config: QUIC transport can not be used with an UpstreamProxy")
	}
	c.upstreamProxy = pCfg
	return nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)
	if err := cfg.FixupAndValidate(); err != nil {
		panic("BUG: default config is invalid: " + err.Error())
	}
	return cfg
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("No nil buffer as config file")
	}
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
