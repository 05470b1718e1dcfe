/*
Copyright 2019 The Ceph-CSI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package child

import (
	"fmt"
	"strconv"
)

// Config is the child process's environment-derived configuration, per §6.
type Config struct {
	// Port is the TCP port to listen on; 0 means "let the kernel pick".
	Port uint16

	// TLSCertificate and TLSPrivateKey are both set, or both empty.
	TLSCertificate string
	TLSPrivateKey  string

	// SelfMetricsPort, if non-empty in the environment, is the port the
	// self-observability surface (pkg/metrics) listens on. It has no
	// equivalent in the original handshake and is entirely optional.
	SelfMetricsPort uint16
	SelfMetricsSet  bool
}

// LoadConfig reads the child's configuration from environment variables via
// getenv (os.LookupEnv in production, a map in tests).
func LoadConfig(getenv func(string) (string, bool)) (Config, error) {
	var cfg Config

	portStr, ok := getenv("PORT")
	if !ok {
		return Config{}, fmt.Errorf("PORT is required")
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Config{}, fmt.Errorf("PORT %q is not a valid port number: %w", portStr, err)
	}
	cfg.Port = uint16(port)

	cert, hasCert := getenv("TLS_CERTIFICATE")
	key, hasKey := getenv("TLS_PRIVATE_KEY")

	switch {
	case hasCert && hasKey:
		cfg.TLSCertificate = cert
		cfg.TLSPrivateKey = key
	case hasCert != hasKey:
		return Config{}, fmt.Errorf("TLS_CERTIFICATE and TLS_PRIVATE_KEY must both be set or both be absent")
	}

	if selfPortStr, ok := getenv("SELF_METRICS_PORT"); ok {
		selfPort, err := strconv.ParseUint(selfPortStr, 10, 16)
		if err != nil {
			return Config{}, fmt.Errorf("SELF_METRICS_PORT %q is not a valid port number: %w", selfPortStr, err)
		}
		cfg.SelfMetricsPort = uint16(selfPort)
		cfg.SelfMetricsSet = true
	}

	return cfg, nil
}

// UseTLS reports whether both TLS environment variables were supplied.
func (c Config) UseTLS() bool {
	return c.TLSCertificate != "" && c.TLSPrivateKey != ""
}
