package call

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dLink/rpc/client"
	"github.com/ValentinKolb/dLink/rpc/common"
	"github.com/ValentinKolb/dLink/rpc/serializer"
	"github.com/ValentinKolb/dLink/rpc/server"
	"github.com/ValentinKolb/dLink/rpc/transport/tcp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestBenchmarkAgainstMockServer(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := server.NewServer(
		common.ServerConfig{Endpoint: "127.0.0.1:0"},
		tcp.NewTCPServerTransport(serializer.NewBinarySerializer()),
		server.NewRouter(server.DemoRoutes()),
	)
	require.NoError(t, s.Start())
	defer s.Stop()

	config := common.DefaultClientConfig("", 0)
	config.Endpoint = s.Addr()
	pool, err := client.NewPool(config, tcp.NewTCPTransportFactory(serializer.NewBinarySerializer()), nil)
	require.NoError(t, err)
	defer pool.Close()

	result, err := benchmark(context.Background(), pool, server.CmdEcho, common.Body{"v": "x"}, 200, 4)
	require.NoError(t, err)
	require.Equal(t, 200, result.Requests)
	require.Equal(t, 200, result.Latency.Count)
	require.Empty(t, result.Errors)
	require.Greater(t, result.throughput(), 0.0)
	require.LessOrEqual(t, result.PoolStats.Created, uint64(5))

	// unknown commands are counted as remote errors
	result, err = benchmark(context.Background(), pool, 0x7777, nil, 10, 2)
	require.NoError(t, err)
	require.Zero(t, result.Latency.Count)
	require.Equal(t, 10, result.Errors["remote: unknown command 0x7777"])

	path := filepath.Join(t.TempDir(), "perf.csv")
	require.NoError(t, writeResultToCSV(path, result, config))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Command", rows[0][0])
	require.Equal(t, "10", rows[1][1])
}

func TestDescribeError(t *testing.T) {
	require.Equal(t, "remote: nope", describeError(&common.RemoteError{Info: "nope"}))
	require.Equal(t, "connection closed", describeError(common.ClosedBy(fmt.Errorf("boom"))))
	require.Equal(t, "plain", describeError(fmt.Errorf("plain")))
}
