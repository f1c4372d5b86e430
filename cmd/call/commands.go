package call

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ValentinKolb/dLink/cmd/util"
	"github.com/ValentinKolb/dLink/rpc/client"
	"github.com/ValentinKolb/dLink/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	askCmd = &cobra.Command{
		Use:   "ask [command] [json-body]",
		Short: "Sends a request and prints the reply",
		Long:  "Sends a request and prints the reply. The command is a number, hex with 0x prefix (e.g. 0x0101). The body is a JSON object.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, body, err := parseArgs(args)
			if err != nil {
				return err
			}

			pool, err := openPool(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer pool.Close()

			start := time.Now()
			resp, err := pool.Ask(cmd.Context(), command, body, 0)
			var remote *common.RemoteError
			if errors.As(err, &remote) {
				fmt.Printf("exception 0x%04x: %s\n", remote.Command, remote.Info)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(util.FormatBody(resp))
			fmt.Printf("(%s)\n", time.Since(start))
			return nil
		},
	}
	notifyCmd = &cobra.Command{
		Use:   "notify [command] [json-body]",
		Short: "Sends a one-way event",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, body, err := parseArgs(args)
			if err != nil {
				return err
			}

			pool, err := openPool(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pool.Notify(command, body); err != nil {
				return err
			}
			fmt.Println("sent successfully")
			return nil
		},
	}
	listenCmd = &cobra.Command{
		Use:   "listen [command,...]",
		Short: "Prints inbound events until interrupted",
		Long:  "Registers a listener for each given event command and prints the events until interrupted. Use --send to emit an event after connecting.",
		Args:  cobra.ExactArgs(1),
		RunE:  runListen,
	}
)

func init() {
	listenCmd.Flags().String("send", "", util.WrapString("Event to send after connecting, format command=json-body (e.g. 0x0201={\"text\":\"hi\"})"))
}

func runListen(cmd *cobra.Command, args []string) error {
	commands, err := util.ParseCommands(args[0])
	if err != nil {
		return err
	}

	listeners := client.ListenerTable{}
	for _, command := range commands {
		command := command
		listeners[command] = func(body common.Body) error {
			fmt.Printf("%s event 0x%04x %s\n", time.Now().Format(time.TimeOnly), command, util.FormatBody(body))
			return nil
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx, listeners)
	if err != nil {
		return err
	}
	defer pool.Close()

	if srv := util.ServeMetrics(viper.GetString("metrics-endpoint")); srv != nil {
		defer srv.Close()
	}

	if send := viper.GetString("send"); send != "" {
		if err := sendEvent(pool, send); err != nil {
			return err
		}
	}

	fmt.Printf("listening for %d event types, press Ctrl+C to stop\n", len(commands))
	<-ctx.Done()

	fmt.Println(pool.Stats())
	return nil
}

// sendEvent sends an event given as command=json-body
func sendEvent(pool *client.Pool, spec string) error {
	args := []string{spec}
	if command, body, ok := strings.Cut(spec, "="); ok {
		args = []string{command, body}
	}
	command, body, err := parseArgs(args)
	if err != nil {
		return err
	}
	return pool.Notify(command, body)
}

func parseArgs(args []string) (uint32, common.Body, error) {
	command, err := util.ParseCommand(args[0])
	if err != nil {
		return 0, nil, err
	}
	raw := ""
	if len(args) > 1 {
		raw = args[1]
	}
	body, err := util.ParseBody(raw)
	if err != nil {
		return 0, nil, err
	}
	return command, body, nil
}
