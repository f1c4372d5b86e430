package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dLink/rpc/common"
	"github.com/ValentinKolb/dLink/rpc/registry"
	"github.com/ValentinKolb/dLink/rpc/serializer"
	"github.com/ValentinKolb/dLink/rpc/transport"
	"github.com/ValentinKolb/dLink/rpc/transport/tcp"
	"github.com/ValentinKolb/dLink/rpc/transport/unix"
	"github.com/VictoriaMetrics/metrics"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the game server connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "host"
	cmd.PersistentFlags().String(key, "127.0.0.1", WrapString("Host of the game server"))

	key = "port"
	cmd.PersistentFlags().Int(key, 9600, WrapString("Port of the game server"))

	key = "endpoint"
	cmd.PersistentFlags().String(key, "", WrapString("Endpoint of the game server, overrides host and port (e.g. /tmp/dlink.sock for the unix transport)"))

	key = "discover"
	cmd.PersistentFlags().String(key, "", WrapString("Resolve the game server address from etcd using this service name (requires --registry-endpoints)"))

	key = "registry-endpoints"
	cmd.PersistentFlags().String(key, "", WrapString("Comma-separated list of etcd endpoints used for discovery"))

	key = "timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultCallTimeout, WrapString("How long to wait for a reply before the connection is considered broken"))

	key = "idle-ttl"
	cmd.PersistentFlags().Duration(key, common.DefaultIdleTTL, WrapString("How long a pooled connection may stay idle before it is closed"))

	key = "reaper-interval"
	cmd.PersistentFlags().Duration(key, common.DefaultReaperInterval, WrapString("How often idle connections are checked"))

	key = "dial-timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultDialTimeout, WrapString("Timeout for establishing a connection"))

	key = "dial-retries"
	cmd.PersistentFlags().Int(key, common.DefaultDialRetries, WrapString("How many times to try establishing a connection"))

	key = "rate-limit"
	cmd.PersistentFlags().Float64(key, 0, WrapString("Maximum requests per second (0 = unlimited)"))

	key = "rate-burst"
	cmd.PersistentFlags().Int(key, 1, WrapString("Burst size of the rate limit"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the write buffer for the transport (in KB)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the read buffer for the transport (in KB)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY for the transport (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval for the transport (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time for the transport (in seconds, only for tcp, 0 keeps the system default)"))

	key = "transport-max-frame"
	cmd.PersistentFlags().Int(key, common.DefaultMaxFrameSize/1024, WrapString("The largest accepted frame (in KB)"))
}

// InitConfig loads .env files and binds environment variables with the DLINK_ prefix
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dlink")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads the client configuration from viper.
// If --discover is set the server address is resolved from etcd.
func GetClientConfig(ctx context.Context) (common.ClientConfig, error) {
	conf := common.ClientConfig{
		Host:           viper.GetString("host"),
		Port:           viper.GetInt("port"),
		Endpoint:       viper.GetString("endpoint"),
		IdleTTL:        viper.GetDuration("idle-ttl"),
		ReaperInterval: viper.GetDuration("reaper-interval"),
		CallTimeout:    viper.GetDuration("timeout"),
		DialTimeout:    viper.GetDuration("dial-timeout"),
		DialRetries:    viper.GetInt("dial-retries"),
		RateLimit:      viper.GetFloat64("rate-limit"),
		RateBurst:      viper.GetInt("rate-burst"),
		Transport: common.ClientTransportConfig{
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
			MaxFrameSize: viper.GetInt("transport-max-frame") * 1024,
		},
	}

	if service := viper.GetString("discover"); service != "" {
		host, port, err := Discover(ctx, service, SplitList(viper.GetString("registry-endpoints")))
		if err != nil {
			return conf, err
		}
		conf.Host, conf.Port, conf.Endpoint = host, port, ""
	}

	return conf.WithDefaults(), nil
}

// Discover resolves one instance of service from etcd
func Discover(ctx context.Context, service string, endpoints []string) (string, int, error) {
	if len(endpoints) == 0 {
		return "", 0, errors.New("--discover requires --registry-endpoints")
	}
	reg, err := registry.NewEtcdRegistry(endpoints, 5*time.Second)
	if err != nil {
		return "", 0, err
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return reg.Resolve(ctx, service)
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// GetTransportFactory creates a client transport factory based on configuration
func GetTransportFactory(s serializer.IRPCSerializer) (transport.Factory, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPTransportFactory(s), nil
	case "unix":
		return unix.NewUnixTransportFactory(s), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates a server transport based on configuration
func GetServerTransport(s serializer.IRPCSerializer) (transport.IMessageServerTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerTransport(s), nil
	case "unix":
		return unix.NewUnixServerTransport(s), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// InitLogging sets the level of all dLink loggers from the log-level flag
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// ParseCommand parses a command code, hex with 0x prefix or decimal
func ParseCommand(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid command %q: %w", s, err)
	}
	return uint32(v), nil
}

// ParseCommands parses a comma-separated list of command codes
func ParseCommands(s string) ([]uint32, error) {
	var out []uint32
	for _, part := range SplitList(s) {
		c, err := ParseCommand(part)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, errors.New("no command given")
	}
	return out, nil
}

// ParseBody parses a JSON object, an empty string is an empty body
func ParseBody(s string) (common.Body, error) {
	if strings.TrimSpace(s) == "" {
		return common.Body{}, nil
	}
	var body common.Body
	if err := json.Unmarshal([]byte(s), &body); err != nil {
		return nil, fmt.Errorf("body must be a JSON object: %w", err)
	}
	if body == nil {
		body = common.Body{}
	}
	return body, nil
}

// FormatBody renders a body as indented JSON
func FormatBody(body common.Body) string {
	if body == nil {
		return "{}"
	}
	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(body))
	}
	return string(out)
}

// SplitList splits a comma-separated list and drops empty entries
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ServeMetrics exposes all metrics in Prometheus format on addr/metrics.
// It returns nil if addr is empty.
func ServeMetrics(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("metrics endpoint on %s failed: %v\n", addr, err)
		}
	}()
	return srv
}
