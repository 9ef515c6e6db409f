// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixclient/client/transport"
	"github.com/katzenpost/mixclient/core/path"
)

func TestConfig(t *testing.T) {
	require := require.New(t)

	_, err := Load(nil)
	require.EqualError(err, "No nil buffer as config file")

	cfg, err := LoadFile("../testdata/client.toml")
	require.NoError(err)

	require.Equal("DEBUG", cfg.Logging.Level)
	require.Equal("https://directory.example.net", cfg.DirectoryURL(false))
	require.Equal("http://127.0.0.1:8080", cfg.DirectoryURL(true))
	require.Equal(500, cfg.Dispatch.TickInterval)
	require.Equal(8, cfg.Dispatch.MaxConsecutiveFailures)
	require.Equal(512, cfg.Dispatch.PayloadLength)
	require.Equal(defaultSendTimeout, cfg.Dispatch.SendTimeout)

	dst := cfg.DestinationValue()
	for _, b := range dst.Address {
		require.Equal(byte(7), b)
	}
	for _, b := range dst.Identifier {
		require.Equal(byte(9), b)
	}

	require.Equal("alice", cfg.Provider.ClientID)
	require.Equal([]byte("secret"), cfg.Provider.AuthTokenBytes())

	pCfg := cfg.UpstreamProxyConfig()
	require.Equal(transport.ProxyTypeSOCKS5, pCfg.Type)
	require.Equal("127.0.0.1:9050", pCfg.Address)
}

func TestDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load([]byte(""))
	require.NoError(err)

	require.Equal(DefaultDirectoryURL, cfg.DirectoryURL(false))
	require.Equal(LocalDirectoryURL, cfg.DirectoryURL(true))
	require.Equal("NOTICE", cfg.Logging.Level)
	require.Equal(TransportTCP, cfg.Dispatch.Transport)
	require.Equal(defaultRetrieveEvery, cfg.Dispatch.RetrieveEvery)
	require.Equal(defaultMaxConsecutiveFailures, cfg.Dispatch.MaxConsecutiveFailures)
	require.Equal(path.PlaceholderDestination(), cfg.DestinationValue())
	require.Equal(defaultClientID, cfg.Provider.ClientID)
	require.Nil(cfg.Provider.AuthTokenBytes())
	require.Equal(transport.ProxyTypeNone, cfg.UpstreamProxyConfig().Type)
	require.Equal(int64(1000), cfg.Dispatch.FirstTickOffset().Nanoseconds())
	require.Equal(int64(1000), cfg.Dispatch.TickPeriod().Milliseconds())

	require.Equal(cfg, Default())
}

func TestInvalidConfig(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
	}{
		{"log level", "[Logging]\nLevel = \"LOUD\"\n"},
		{"transport", "[Dispatch]\nTransport = \"udp\"\n"},
		{"payload", "[Dispatch]\nPayloadLength = -1\n"},
		{"destination", "[Destination]\nAddress = \"AAAA\"\n"},
		{"identifier", "[Destination]\nIdentifier = \"!!\"\n"},
		{"provider", "[Provider]\nAddress = \"[::1]:9000\"\n"},
		{"token", "[Provider]\nAuthToken = \"*\"\n"},
		{"proxy", "[UpstreamProxy]\nType = \"http\"\n"},
		{"quic proxy", "[Dispatch]\nTransport = \"quic\"\n[UpstreamProxy]\nType = \"socks5\"\nAddress = \"127.0.0.1:9050\"\n"},
		{"metrics", "[Metrics]\nAddress = \"nowhere\"\n"},
		{"undecoded", "[Dispatch]\nBogus = 1\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load([]byte(tc.body))
			require.Error(t, err)
		})
	}
}
