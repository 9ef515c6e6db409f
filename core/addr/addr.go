// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package addr implements the fixed width encodings of mix node addresses
// and public keys that the packet format carries for every hop.
package addr

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

const (
	// AddressLength is the length of an encoded hop address in bytes.
	AddressLength = 32

	// PublicKeyLength is the length of an encoded hop public key in bytes.
	PublicKeyLength = 32

	ipOffset      = 0
	ipLength      = 4
	portOffset    = ipOffset + ipLength
	portLength    = 2
	paddingOffset = portOffset + portLength
)

var (
	errNotIPv4        = errors.New("not an IPv4 address")
	errNonZeroPadding = errors.New("non-zero padding")
	errInvalidLength  = errors.New("invalid length")

	keyEncoding    = base64.URLEncoding
	rawKeyEncoding = base64.RawURLEncoding
)

var zeroPadding [AddressLength - paddingOffset]byte

// Address is the 32 byte hop address: the IPv4 octets, the big endian port,
// and zero padding.
type Address [AddressLength]byte

// NewAddress encodes the dotted-quad host and port.
func NewAddress(host string, port uint16) (Address, error) {
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return Address{}, &AddressFormatError{Address: host, Err: err}
	}
	a, err := fromAddrPort(netip.AddrPortFrom(ip, port))
	if err != nil {
		return Address{}, &AddressFormatError{Address: host, Err: err}
	}
	return a, nil
}

// EncodeAddress encodes an "ip:port" string as advertised by the directory.
func EncodeAddress(hostPort string) (Address, error) {
	ap, err := netip.ParseAddrPort(hostPort)
	if err != nil {
		return Address{}, &AddressFormatError{Address: hostPort, Err: err}
	}
	a, err := fromAddrPort(ap)
	if err != nil {
		return Address{}, &AddressFormatError{Address: hostPort, Err: err}
	}
	return a, nil
}

func fromAddrPort(ap netip.AddrPort) (Address, error) {
	var a Address
	ip := ap.Addr()
	if !ip.Is4() {
		return a, errNotIPv4
	}
	octets := ip.As4()
	copy(a[ipOffset:ipOffset+ipLength], octets[:])
	binary.BigEndian.PutUint16(a[portOffset:portOffset+portLength], ap.Port())
	return a, nil
}

// AddrPort returns the IPv4 address and port carried by a.
func (a *Address) AddrPort() netip.AddrPort {
	var octets [ipLength]byte
	copy(octets[:], a[ipOffset:ipOffset+ipLength])
	port := binary.BigEndian.Uint16(a[portOffset : portOffset+portLength])
	return netip.AddrPortFrom(netip.AddrFrom4(octets), port)
}

// String returns the "ip:port" form of a.
func (a *Address) String() string {
	ap := a.AddrPort()
	return ap.Addr().String() + ":" + strconv.Itoa(int(ap.Port()))
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (a *Address) MarshalBinary() ([]byte, error) {
	b := make([]byte, AddressLength)
	copy(b, a[:])
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (a *Address) UnmarshalBinary(b []byte) error {
	if len(b) != AddressLength {
		return &AddressFormatError{Address: fmt.Sprintf("%x", b), Err: errInvalidLength}
	}
	if [AddressLength - paddingOffset]byte(b[paddingOffset:]) != zeroPadding {
		return &AddressFormatError{Address: fmt.Sprintf("%x", b), Err: errNonZeroPadding}
	}
	copy(a[:], b)
	return nil
}

// DecodePublicKey decodes a URL-safe base64 public key, padded or not, zero
// padding it on the right to PublicKeyLength bytes.  No curve validation is
// done here.
func DecodePublicKey(encoded string) ([PublicKeyLength]byte, error) {
	var key [PublicKeyLength]byte
	enc := rawKeyEncoding
	if strings.HasSuffix(encoded, "=") {
		enc = keyEncoding
	}
	raw, err := enc.DecodeString(encoded)
	if err != nil {
		return key, &KeyDecodeError{Err: err}
	}
	if len(raw) > PublicKeyLength {
		return key, &KeyLengthError{Length: len(raw)}
	}
	copy(key[:], raw)
	return key, nil
}

// EncodePublicKey is the inverse of DecodePublicKey.
func EncodePublicKey(key []byte) string {
	return keyEncoding.EncodeToString(key)
}
