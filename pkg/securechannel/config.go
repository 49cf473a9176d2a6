package securechannel

import (
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/logging"
)

// DefaultHandshakeTimeout bounds a single DTLS handshake.
const DefaultHandshakeTimeout = 30 * time.Second

// Callbacks provides callback functions for channel events.
type Callbacks struct {
	// OnEstablished is called once the handshake completes.
	OnEstablished func()

	// OnError is called when the handshake fails.
	OnError func(err error)
}

// Config configures DTLS pre-shared key security.
type Config struct {
	// Identity is the PSK identity sent to the server.
	Identity []byte

	// Key is the pre-shared secret.
	Key []byte

	// CipherSuites restricts the offered suites.
	// Defaults to TLS_PSK_WITH_AES_128_CCM_8.
	CipherSuites []dtls.CipherSuiteID

	// HandshakeTimeout bounds the handshake. Defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// Callbacks for channel events.
	Callbacks Callbacks

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Identity) == 0 {
		return ErrMissingIdentity
	}
	if len(c.Key) == 0 {
		return ErrMissingKey
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.CipherSuites) == 0 {
		c.CipherSuites = []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_CCM_8}
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

func (c *Config) dtlsConfig() *dtls.Config {
	key := c.Key
	return &dtls.Config{
		PSK: func([]byte) ([]byte, error) {
			return key, nil
		},
		PSKIdentityHint: c.Identity,
		CipherSuites:    c.CipherSuites,
		LoggerFactory:   c.LoggerFactory,
	}
}
