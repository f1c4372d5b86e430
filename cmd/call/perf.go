package call

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dLink/cmd/util"
	libUtil "github.com/ValentinKolb/dLink/lib/util"
	"github.com/ValentinKolb/dLink/rpc/client"
	"github.com/ValentinKolb/dLink/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for game servers",
		Long:    "Sends requests from concurrent workers through one pool and reports throughput and latency.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfRequests    = 10000
	perfConcurrency = 10
	perfCommand     uint32
	perfBody        common.Body
)

func init() {
	// add flags
	key := "requests"
	perfTestCmd.Flags().Int(key, 10000, util.WrapString("Total number of requests to send"))
	key = "concurrency"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent workers"))
	key = "command"
	perfTestCmd.Flags().String(key, "0x0103", util.WrapString("Command code to send (default is echo)"))
	key = "body"
	perfTestCmd.Flags().String(key, `{"ping":"pong"}`, util.WrapString("JSON body to send with every request"))
	key = "payload-size"
	perfTestCmd.Flags().Int(key, 0, util.WrapString("Adds a string field of this size (in bytes) to the body"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfRequests = viper.GetInt("requests")
	perfConcurrency = viper.GetInt("concurrency")
	if perfRequests < 1 || perfConcurrency < 1 {
		return fmt.Errorf("requests and concurrency must be positive")
	}

	var err error
	if perfCommand, err = util.ParseCommand(viper.GetString("command")); err != nil {
		return err
	}
	if perfBody, err = util.ParseBody(viper.GetString("body")); err != nil {
		return err
	}
	if size := viper.GetInt("payload-size"); size > 0 {
		perfBody["payload"] = strings.Repeat("x", size)
	}
	return nil
}

// perfResult is the outcome of one perf run
type perfResult struct {
	Requests  int
	Duration  time.Duration
	Latency   libUtil.LatencyStats
	Errors    map[string]int
	PoolStats client.PoolStats
}

func (r perfResult) throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Requests) / r.Duration.Seconds()
}

func runPerf(cmd *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for game servers")

	pool, err := openPool(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer pool.Close()

	if srv := util.ServeMetrics(viper.GetString("metrics-endpoint")); srv != nil {
		defer srv.Close()
	}

	// Print configuration
	config := pool.Config()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Command: 0x%04x  Requests: %d  Workers: %d\n", perfCommand, perfRequests, perfConcurrency)
	fmt.Println()

	fmt.Println("starting test...")
	result, err := benchmark(cmd.Context(), pool, perfCommand, perfBody, perfRequests, perfConcurrency)
	if err != nil {
		return err
	}
	printResult(result)

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultToCSV(csvPath, result, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %w", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// benchmark sends requests from workers goroutines through pool. Failed
// requests are counted by error kind and do not stop the run.
func benchmark(ctx context.Context, pool *client.Pool, command uint32, body common.Body, requests, workers int) (perfResult, error) {
	var next atomic.Int64
	latencies := make([][]time.Duration, workers)

	var errMu sync.Mutex
	errs := make(map[string]int)

	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for next.Add(1) <= int64(requests) {
				if err := ctx.Err(); err != nil {
					return err
				}
				t := time.Now()
				_, err := pool.Ask(ctx, command, body, 0)
				if err != nil {
					errMu.Lock()
					errs[describeError(err)]++
					errMu.Unlock()
					continue
				}
				latencies[w] = append(latencies[w], time.Since(t))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return perfResult{}, err
	}
	elapsed := time.Since(start)

	var all []time.Duration
	for _, l := range latencies {
		all = append(all, l...)
	}

	return perfResult{
		Requests:  requests,
		Duration:  elapsed,
		Latency:   libUtil.NewLatencyStats(all),
		Errors:    errs,
		PoolStats: pool.Stats(),
	}, nil
}

// describeError groups errors by their leading message
func describeError(err error) string {
	var remote *common.RemoteError
	if errors.As(err, &remote) {
		return "remote: " + remote.Info
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, ':'); i > 0 {
		return msg[:i]
	}
	return msg
}

// printResult prints the result of a perf run in a formatted way
func printResult(r perfResult) {
	fmt.Printf("%-20s%d in %s\n", "requests", r.Requests, r.Duration.Round(time.Millisecond))
	fmt.Printf("%-20s%.0f req/sec\n", "throughput", r.throughput())
	fmt.Printf("%-20s%d\n", "succeeded", r.Latency.Count)
	fmt.Printf("%-20smean %s  min %s  max %s  stddev %s\n", "latency",
		time.Duration(r.Latency.Mean), time.Duration(r.Latency.Min), time.Duration(r.Latency.Max), time.Duration(r.Latency.StdDeviation))
	fmt.Printf("%-20sp50 %s  p90 %s  p99 %s\n", "percentiles", r.Latency.P50, r.Latency.P90, r.Latency.P99)
	fmt.Printf("%-20s%s\n", "pool", r.PoolStats)

	if len(r.Errors) > 0 {
		kinds := make([]string, 0, len(r.Errors))
		for k := range r.Errors {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("%-20s%d x %s\n", "error", r.Errors[k], k)
		}
	}
}

// writeResultToCSV writes a perf result to a CSV file
func writeResultToCSV(csvPath string, r perfResult, config common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Command", "Requests", "Succeeded", "Workers", "DurationMs", "ReqPerSec",
		"MeanNs", "MinNs", "MaxNs", "StdDevNs", "P50Ns", "P90Ns", "P99Ns",
		"Address", "Serializer", "Transport", "CallTimeout", "IdleTTL", "ConnectionsCreated",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	row := []string{
		fmt.Sprintf("0x%04x", perfCommand),
		strconv.Itoa(r.Requests),
		strconv.Itoa(r.Latency.Count),
		strconv.Itoa(perfConcurrency),
		strconv.FormatInt(r.Duration.Milliseconds(), 10),
		fmt.Sprintf("%.0f", r.throughput()),
		fmt.Sprintf("%.0f", r.Latency.Mean),
		fmt.Sprintf("%.0f", r.Latency.Min),
		fmt.Sprintf("%.0f", r.Latency.Max),
		fmt.Sprintf("%.0f", r.Latency.StdDeviation),
		strconv.FormatInt(r.Latency.P50.Nanoseconds(), 10),
		strconv.FormatInt(r.Latency.P90.Nanoseconds(), 10),
		strconv.FormatInt(r.Latency.P99.Nanoseconds(), 10),
		config.Address(),
		viper.GetString("serializer"),
		viper.GetString("transport"),
		config.CallTimeout.String(),
		config.IdleTTL.String(),
		strconv.FormatUint(r.PoolStats.Created, 10),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}
	return nil
}
