package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultIdleTTL        = time.Minute
	DefaultReaperInterval = 5 * time.Second
	DefaultCallTimeout    = 3 * time.Second
	DefaultDialTimeout    = 5 * time.Second
	DefaultDialRetries    = 3
	DefaultMaxFrameSize   = 4 * 1024 * 1024 // 4 MB
)

// --------------------------------------------------------------------------
// Transport configuration (shared by client and server)
// --------------------------------------------------------------------------

// SocketConf holds generic socket options
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ClientTransportConfig configures the client side of a transport
type ClientTransportConfig struct {
	SocketConf
	TCPConf
	MaxFrameSize int
}

// ServerTransportConfig configures the server side of a transport
type ServerTransportConfig struct {
	SocketConf
	TCPConf
	MaxFrameSize int
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all parameters of a connection pool and its connections
type ClientConfig struct {
	// game server address, Endpoint overrides Host/Port (e.g. a unix socket path)
	Host     string
	Port     int
	Endpoint string

	// pool and call timing
	IdleTTL        time.Duration
	ReaperInterval time.Duration
	CallTimeout    time.Duration

	// dialing
	DialTimeout time.Duration
	DialRetries int

	// optional client side rate limit for ask (requests per second, 0 = unlimited)
	RateLimit float64
	RateBurst int

	Transport ClientTransportConfig
}

// DefaultClientConfig returns a configuration with default timings for the given server
func DefaultClientConfig(host string, port int) ClientConfig {
	return ClientConfig{
		Host:           host,
		Port:           port,
		IdleTTL:        DefaultIdleTTL,
		ReaperInterval: DefaultReaperInterval,
		CallTimeout:    DefaultCallTimeout,
		DialTimeout:    DefaultDialTimeout,
		DialRetries:    DefaultDialRetries,
		Transport: ClientTransportConfig{
			TCPConf:      TCPConf{TCPNoDelay: true},
			MaxFrameSize: DefaultMaxFrameSize,
		},
	}
}

// WithDefaults returns a copy of the configuration with every unset timing replaced by its default
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.IdleTTL <= 0 {
		c.IdleTTL = DefaultIdleTTL
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = DefaultReaperInterval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.DialRetries < 1 {
		c.DialRetries = 1
	}
	if c.Transport.MaxFrameSize <= 0 {
		c.Transport.MaxFrameSize = DefaultMaxFrameSize
	}
	return c
}

// Address returns the address to dial
func (c ClientConfig) Address() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Address", c.Address())
	addField("Call Timeout", c.CallTimeout.String())
	addField("Idle TTL", c.IdleTTL.String())
	addField("Reaper Interval", c.ReaperInterval.String())
	addField("Dial Timeout", c.DialTimeout.String())
	addField("Dial Retries", strconv.Itoa(c.DialRetries))
	if c.RateLimit > 0 {
		addField("Rate Limit", fmt.Sprintf("%.1f req/s (burst %d)", c.RateLimit, c.RateBurst))
	} else {
		addField("Rate Limit", "unlimited")
	}

	addSection("Transport")
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Transport.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Transport.ReadBufferSize))
	addField("TCP NoDelay", strconv.FormatBool(c.Transport.TCPNoDelay))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.Transport.MaxFrameSize))

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds the configuration of the mock game server
type ServerConfig struct {
	// Endpoint to listen on (host:port or socket path)
	Endpoint string

	// TimeoutSecond is the per connection write timeout, 0 disables it
	TimeoutSecond int64

	// service discovery, registration is skipped if RegistryEndpoints is empty
	ServiceName       string
	RegistryEndpoints []string
	RegistryTTLSecond int64

	LogLevel string

	Transport ServerTransportConfig
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	if len(c.RegistryEndpoints) > 0 {
		addSection("Registry")
		addField("Service", c.ServiceName)
		addField("Lease TTL", fmt.Sprintf("%d sec", c.RegistryTTLSecond))
		for i, ep := range c.RegistryEndpoints {
			addField(strconv.Itoa(i), ep)
		}
	}

	return sb.String()
}
