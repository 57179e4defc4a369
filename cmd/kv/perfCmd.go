package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ValentinKolb/pKV/cmd/util"
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for pKV servers",
		Long:    "Runs a fixed number of requests per benchmark from several workers and reports throughput and latency percentiles.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfRequests         = 10000
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

// percentiles reported for every benchmark
var perfPercentiles = []float64{0.5, 0.9, 0.99}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of workers to use for the benchmark"))
	key = "requests"
	perfTestCmd.Flags().Int(key, 10000, util.WrapString("Number of requests per benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfRequests = max(viper.GetInt("requests"), perfNumThreads)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchmark is one workload of the perf tool
type benchmark struct {
	name string
	// prepare runs before the timer starts
	prepare func(keys []string) error
	// op is one timed request
	op func(i int, key string) error
	// cleanup removes what the benchmark wrote
	cleanup bool
}

// perfResult is the outcome of one benchmark
type perfResult struct {
	name        string
	skipped     bool
	ops         int64
	failures    int64
	elapsed     time.Duration
	mean        time.Duration
	percentiles []time.Duration
	max         time.Duration
}

func (r perfResult) opsPerSec() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.ops) / r.elapsed.Seconds()
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for pKV servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Workers: %d, Requests: %d, Keys: %d\n", perfNumThreads, perfRequests, perfKeySpread)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	largeValue := make([]byte, perfLargeValueSizeKB*1024)
	setAll := func(keys []string) error {
		values := make([][]byte, len(keys))
		for i := range values {
			values[i] = []byte("perf")
		}
		_, _, err := rpcStore.MSet(keys, values)
		return err
	}

	benchmarks := []benchmark{
		{name: "set", cleanup: true, op: func(_ int, key string) error {
			_, _, err := rpcStore.Set(key, []byte("perf"))
			return err
		}},
		{name: "set-large", cleanup: true, op: func(_ int, key string) error {
			_, _, err := rpcStore.Set(key, largeValue)
			return err
		}},
		{name: "get", cleanup: true, prepare: setAll, op: func(_ int, key string) error {
			_, _, err := rpcStore.Get(key)
			return err
		}},
		{name: "mget", cleanup: true, prepare: setAll, op: func(i int, key string) error {
			_, _, err := rpcStore.MGet([]string{key, perfKey("mget", i+1), perfKey("mget", i+2)})
			return err
		}},
		{name: "exist", cleanup: true, prepare: setAll, op: func(_ int, key string) error {
			_, err := rpcStore.Has(key)
			return err
		}},
		{name: "exist-not", op: func(_ int, key string) error {
			_, err := rpcStore.Has(key)
			return err
		}},
		{name: "del", cleanup: true, prepare: setAll, op: func(_ int, key string) error {
			_, _, err := rpcStore.Delete(key)
			return err
		}},
		{name: "mixed", cleanup: true, op: func(i int, key string) error {
			var err error
			switch i % 4 {
			case 0:
				_, _, err = rpcStore.Set(key, []byte("perf"))
			case 1, 2:
				_, _, err = rpcStore.Get(key)
			default:
				_, err = rpcStore.Has(key)
			}
			return err
		}},
	}

	fmt.Println("starting tests...")
	results := make([]perfResult, 0, len(benchmarks))
	for _, b := range benchmarks {
		result, err := runBenchmark(ctx, b)
		if err != nil {
			return err
		}
		results = append(results, result)
		printResult(result)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return err
		}
	}

	return nil
}

// runBenchmark runs b with perfNumThreads workers. Failed requests are
// counted, only an interrupt aborts the run.
func runBenchmark(ctx context.Context, b benchmark) (perfResult, error) {
	if shouldSkip(b.name) {
		return perfResult{name: b.name, skipped: true}, nil
	}

	keys := getKeys(b.name)
	if b.prepare != nil {
		if err := b.prepare(keys); err != nil {
			return perfResult{}, fmt.Errorf("(%s) - failed to prepare keys: %w", b.name, err)
		}
	}
	if b.cleanup {
		defer func() {
			if _, _, err := rpcStore.MDelete(keys); err != nil {
				fmt.Printf("(%s) - error deleting keys: %v\n", b.name, err)
			}
		}()
	}

	registry := metrics.NewRegistry()
	timer := metrics.GetOrRegisterTimer(b.name, registry)
	failures := metrics.GetOrRegisterCounter(b.name+".failures", registry)
	defer timer.Stop()

	perWorker := perfRequests / perfNumThreads
	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < perfNumThreads; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				n := w*perWorker + i
				begin := time.Now()
				err := b.op(n, keys[n%len(keys)])
				timer.UpdateSince(begin)
				if err != nil {
					if failures.Count() == 0 {
						fmt.Printf("(%s) - request failed: %v\n", b.name, err)
					}
					failures.Inc(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return perfResult{}, fmt.Errorf("(%s) - aborted: %w", b.name, err)
	}
	elapsed := time.Since(start)

	snapshot := timer.Snapshot()
	result := perfResult{
		name:     b.name,
		ops:      snapshot.Count(),
		failures: failures.Count(),
		elapsed:  elapsed,
		mean:     time.Duration(snapshot.Mean()),
		max:      time.Duration(snapshot.Max()),
	}
	for _, p := range snapshot.Percentiles(perfPercentiles) {
		result.percentiles = append(result.percentiles, time.Duration(p))
	}
	return result, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

func perfKey(prefix string, i int) string {
	return fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i%perfKeySpread)
}

// getKeys returns the keys a benchmark works on
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = perfKey(prefix, i)
	}
	return keys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(result perfResult) {
	if result.skipped {
		fmt.Printf("%-12sskipped\n", result.name)
		return
	}

	fmt.Printf("%-12s%8.0f ops/sec\tmean %-10s p50 %-10s p90 %-10s p99 %-10s max %-10s",
		result.name, result.opsPerSec(), result.mean, result.percentiles[0], result.percentiles[1], result.percentiles[2], result.max)
	if result.failures > 0 {
		fmt.Printf("\t%d failed", result.failures)
	}
	fmt.Println()
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "Skipped", "Ops", "Failures", "OpsPerSec", "MeanNs", "P50Ns", "P90Ns", "P99Ns", "MaxNs",
		"Endpoints", "Timeout", "RetryCount", "ConnectionsPerEndpoint",
		"Serializer", "Transport", "Security", "Compression",
		"Workers", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, result := range results {
		percentiles := make([]string, len(perfPercentiles))
		for i := range percentiles {
			percentiles[i] = "0"
			if i < len(result.percentiles) {
				percentiles[i] = strconv.FormatInt(result.percentiles[i].Nanoseconds(), 10)
			}
		}

		row := []string{
			result.name,
			strconv.FormatBool(result.skipped),
			strconv.FormatInt(result.ops, 10),
			strconv.FormatInt(result.failures, 10),
			fmt.Sprintf("%.0f", result.opsPerSec()),
			strconv.FormatInt(result.mean.Nanoseconds(), 10),
			percentiles[0],
			percentiles[1],
			percentiles[2],
			strconv.FormatInt(result.max.Nanoseconds(), 10),
			strings.Join(config.Transport.Endpoints, ";"),
			config.Timeout.String(),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			string(config.Security.Mode),
			config.Frame.Compression,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", result.name, err)
		}
	}

	return nil
}
