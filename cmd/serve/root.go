package serve

import (
	"context"
	"strings"

	cmdUtil "github.com/ValentinKolb/dLink/cmd/util"
	"github.com/ValentinKolb/dLink/rpc/common"
	"github.com/ValentinKolb/dLink/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the mock game server",
		Long:    `Start the mock game server with the demo routes (ping, login, whoami, echo, slow echo and a chat broadcast). The configuration can be set via command line flags or environment variables. The format of the environment variables is DLINK_<flag> (e.g. DLINK_ENDPOINT=0.0.0.0:9600)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9600", cmdUtil.WrapString("The address on which the server will listen (e.g. localhost:9600, /tmp/dlink.sock, ...)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Write timeout per connection in seconds (0 disables it)"))

	key = "service-name"
	ServeCmd.PersistentFlags().String(key, "game", cmdUtil.WrapString("Service name used for etcd registration"))

	key = "registry-endpoints"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of etcd endpoints, the server registers itself if set"))

	key = "registry-ttl"
	ServeCmd.PersistentFlags().Int64(key, 10, cmdUtil.WrapString("TTL in seconds of the registration lease"))

	key = "transport-write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the write buffer for the transport (in KB)"))

	key = "transport-read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the read buffer for the transport (in KB)"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY for the transport (only for tcp)"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval for the transport (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The linger time for the transport (in seconds, only for tcp, 0 keeps the system default)"))

	key = "transport-max-frame"
	ServeCmd.PersistentFlags().Int(key, common.DefaultMaxFrameSize/1024, cmdUtil.WrapString("The largest accepted frame (in KB)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := cmdUtil.InitLogging(); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.ServiceName = strings.TrimSpace(viper.GetString("service-name"))
	serveCmdConfig.RegistryEndpoints = cmdUtil.SplitList(viper.GetString("registry-endpoints"))
	serveCmdConfig.RegistryTTLSecond = viper.GetInt64("registry-ttl")
	serveCmdConfig.Transport = common.ServerTransportConfig{
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
	}

	return nil
}

// run starts the mock game server and blocks until it is interrupted
func run(cmd *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport(s)
	if err != nil {
		return err
	}

	if srv := cmdUtil.ServeMetrics(viper.GetString("metrics-endpoint")); srv != nil {
		defer srv.Close()
	}

	serv := server.NewServer(*serveCmdConfig, t, server.NewRouter(server.DemoRoutes()))
	return serv.Serve(context.Background())
}
