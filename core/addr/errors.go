// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

package addr

import "fmt"

// AddressFormatError is returned when a host string can not be encoded
// into an Address.
type AddressFormatError struct {
	// Address is the offending input.
	Address string

	// Err is the underlying parse error.
	Err error
}

// Error implements the error interface.
func (e *AddressFormatError) Error() string {
	return fmt.Sprintf("addr: invalid address '%v': %v", e.Address, e.Err)
}

func (e *AddressFormatError) Unwrap() error {
	return e.Err
}

// KeyDecodeError is returned when a public key is not valid URL-safe base64.
type KeyDecodeError struct {
	Err error
}

// Error implements the error interface.
func (e *KeyDecodeError) Error() string {
	return fmt.Sprintf("addr: failed to decode public key: %v", e.Err)
}

func (e *KeyDecodeError) Unwrap() error {
	return e.Err
}

// KeyLengthError is returned when a decoded public key is longer than
// PublicKeyLength.
type KeyLengthError struct {
	Length int
}

// Error implements the error interface.
func (e *KeyLengthError) Error() string {
	return fmt.Sprintf("addr: public key is %d bytes, at most %d allowed", e.Length, PublicKeyLength)
}
