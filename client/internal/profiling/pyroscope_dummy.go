// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !pyroscope

package profiling

import "gopkg.in/op/go-logging.v1"

// Start does nothing unless built with the pyroscope tag.
func Start(log *logging.Logger) (func() error, error) {
	log.Debug("Pyroscope is disabled")
	return func() error { return nil }, nil
}
