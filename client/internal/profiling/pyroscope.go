// SPDX-FileCopyrightText: Copyright (C) 2026  Katzenpost developers
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build pyroscope

package profiling

import (
	"errors"
	"os"

	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"
)

// Start starts continuous profiling, configured from the environment.
func Start(log *logging.Logger) (func() error, error) {
	serverAddress := os.Getenv("PYROSCOPE_SERVER_ADDRESS")
	if serverAddress == "" {
		return nil, errors.New("profiling: PYROSCOPE_SERVER_ADDRESS is not set")
	}
	appName := os.Getenv("PYROSCOPE_APP_NAME")
	if appName == "" {
		appName = "mixclient"
	}
	tags := make(map[string]string)
	if serviceTag := os.Getenv("PYROSCOPE_SERVICE_TAG"); serviceTag != "" {
		tags["service"] = serviceTag
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		Logger:          pyroscope.StandardLogger,
		Tags:            tags,
	})
	if err != nil {
		return nil, err
	}
	log.Noticef("Pyroscope profiling to %s as %s", serverAddress, appName)
	return profiler.Stop, nil
}
