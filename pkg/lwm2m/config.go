package lwm2m

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/lwm2m/pkg/metrics"
	"github.com/backkem/lwm2m/pkg/transaction"
	"github.com/backkem/lwm2m/pkg/transport"
)

// Registration lifetime bounds.
const (
	LifetimeMin = 16 * time.Second
	LifetimeMax = 0xFFFFFFF * time.Second
)

// Timing defaults.
const (
	DefaultConnectRetryInterval  = 10 * time.Second
	DefaultBootstrapTimeout      = 60 * time.Second
	DefaultRegisterRetryInterval = 30 * time.Second
	DefaultUpdateMargin          = 20 * time.Second
	DefaultMaxBlock1Size         = 8 * 1024
)

// Config holds the configuration of a Session.
type Config struct {
	// EndpointName is the client endpoint name sent at registration.
	// Defaults to "urn:uuid:<random uuid>".
	EndpointName string

	// Operational server. Required unless Bootstrap is set.
	ServerHost string
	ServerPort int

	// Bootstrap enables the bootstrap sub-protocol against BootstrapHost.
	Bootstrap     bool
	BootstrapHost string
	BootstrapPort int

	// DTLS secures both servers with a pre-shared key.
	DTLS        bool
	PSKIdentity string
	PSK         []byte

	// AuthCode is sent as the "ac" registration parameter. Optional.
	AuthCode string

	// UserData is a credential string "AuthCode:<code>;PSK:<psk>;" that
	// fills AuthCode and PSK when they are empty.
	UserData string

	// AltPath is the alternate object root ("/lwm2m"). Optional.
	AltPath string

	// Timing
	ConnectRetryInterval  time.Duration // between connect attempts (default: 10s)
	BootstrapTimeout      time.Duration // bootstrap deadline (default: 60s)
	RegisterRetryInterval time.Duration // between registration attempts (default: 30s)
	UpdateMargin          time.Duration // EventUpdateNeeded lead time (default: 20s)

	// AutoUpdate sends a registration update when the margin is reached.
	AutoUpdate bool

	// MaxBlock1Size bounds a reassembled request body (default: 8 KiB).
	MaxBlock1Size int

	// Transaction is the CoAP retransmission schedule. Zero fields use RFC 7252 defaults.
	Transaction transaction.Params

	// OnEvent receives application events. Required before Register.
	OnEvent EventHandler

	// Storage persists the operational server address. Defaults to MemoryStorage.
	Storage Storage

	// Metrics records engine metrics. Optional.
	Metrics *metrics.Metrics

	// Advanced - Internal use / Testing
	Factory   transport.Factory // For virtual network testing
	LocalPort int               // Local UDP port (default: ephemeral)
	Now       func() time.Time  // Clock (default: time.Now)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.UserData != "" {
		if _, _, err := ParseUserData(c.UserData); err != nil {
			return err
		}
	}

	if c.Bootstrap {
		if c.BootstrapHost == "" {
			return ErrBootstrapServerRequired
		}
	} else if c.ServerHost == "" {
		return ErrServerRequired
	}

	for _, port := range []int{c.ServerPort, c.BootstrapPort, c.LocalPort} {
		if port < 0 || port > 65535 {
			return ErrInvalidPort
		}
	}

	if c.DTLS {
		psk := c.PSK
		if len(psk) == 0 && c.UserData != "" {
			_, psk, _ = ParseUserData(c.UserData)
		}
		if len(psk) == 0 {
			return ErrCredentialsRequired
		}
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.EndpointName == "" {
		c.EndpointName = "urn:uuid:" + uuid.NewString()
	}

	if c.UserData != "" {
		ac, psk, _ := ParseUserData(c.UserData)
		if c.AuthCode == "" {
			c.AuthCode = ac
		}
		if len(c.PSK) == 0 {
			c.PSK = psk
		}
	}
	if c.DTLS && c.PSKIdentity == "" {
		c.PSKIdentity = c.EndpointName
	}

	defaultPort := transport.DefaultPort
	if c.DTLS {
		defaultPort = transport.DefaultSecurePort
	}
	if c.ServerPort == 0 {
		c.ServerPort = defaultPort
	}
	if c.BootstrapPort == 0 {
		c.BootstrapPort = defaultPort
	}

	if c.ConnectRetryInterval <= 0 {
		c.ConnectRetryInterval = DefaultConnectRetryInterval
	}
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = DefaultBootstrapTimeout
	}
	if c.RegisterRetryInterval <= 0 {
		c.RegisterRetryInterval = DefaultRegisterRetryInterval
	}
	if c.UpdateMargin <= 0 {
		c.UpdateMargin = DefaultUpdateMargin
	}
	if c.MaxBlock1Size <= 0 {
		c.MaxBlock1Size = DefaultMaxBlock1Size
	}

	if c.Storage == nil {
		c.Storage = NewMemoryStorage()
	}
	if c.Factory == nil {
		c.Factory = transport.NetFactory{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// ParseUserData extracts the auth code and PSK from a credential string of
// the form "AuthCode:<code>;PSK:<psk>;". Either item may be absent; keys are
// case-insensitive and unknown keys are rejected.
func ParseUserData(s string) (authCode string, psk []byte, err error) {
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, value, ok := strings.Cut(item, ":")
		if !ok {
			return "", nil, ErrInvalidUserData
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "authcode":
			authCode = value
		case "psk":
			psk = []byte(value)
		default:
			return "", nil, ErrInvalidUserData
		}
	}
	return authCode, psk, nil
}
