package call

import (
	"context"

	"github.com/ValentinKolb/dLink/cmd/util"
	"github.com/ValentinKolb/dLink/rpc/client"
	"github.com/spf13/cobra"
)

var (
	// CallCommands represents the client command group
	CallCommands = &cobra.Command{
		Use:               "call",
		Short:             "Talk to a game server",
		PersistentPreRunE: setupClient,
	}
)

func init() {
	// Add common client flags to the call command
	util.SetupClientFlags(CallCommands)

	// Add subcommands
	CallCommands.AddCommand(askCmd)
	CallCommands.AddCommand(notifyCmd)
	CallCommands.AddCommand(listenCmd)
	CallCommands.AddCommand(perfTestCmd)
}

// setupClient binds the flags and configures logging
func setupClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return util.InitLogging()
}

// openPool creates a pool for the configured game server
func openPool(ctx context.Context, listeners client.ListenerTable) (*client.Pool, error) {
	config, err := util.GetClientConfig(ctx)
	if err != nil {
		return nil, err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return nil, err
	}

	factory, err := util.GetTransportFactory(s)
	if err != nil {
		return nil, err
	}

	return client.NewPool(config, factory, listeners)
}
