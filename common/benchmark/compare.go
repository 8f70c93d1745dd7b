package benchmark

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/intellect4all/bptree-engine/common"
)

// Suite runs a fixed set of workload configurations against one engine in
// sequence and collects their results for a summary table. Grounded on the
// teacher's multi-engine ComparisonSuite, narrowed to a single engine now
// that hashindex and lsm are gone and there is nothing left to compare
// against.
type Suite struct {
	configs []Config
}

func NewSuite() *Suite {
	return &Suite{
		configs: StandardWorkloads(),
	}
}

// SetWorkloads sets custom workload configurations
func (s *Suite) SetWorkloads(configs []Config) {
	s.configs = configs
}

// StandardWorkloads returns common benchmark scenarios
func StandardWorkloads() []Config {
	return []Config{
		{
			Name:            "write-heavy-uniform",
			WorkloadType:    WorkloadWriteHeavy,
			KeyDistribution: DistUniform,
			NumKeys:         1000000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        60 * time.Second,
			Concurrency:     8,
			PreloadKeys:     100000,
			Seed:            12345,
		},
		{
			Name:            "read-heavy-zipfian",
			WorkloadType:    WorkloadReadHeavy,
			KeyDistribution: DistZipfian,
			NumKeys:         1000000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        60 * time.Second,
			Concurrency:     8,
			PreloadKeys:     500000,
			Seed:            12345,
		},
		{
			Name:            "balanced-uniform",
			WorkloadType:    WorkloadBalanced,
			KeyDistribution: DistUniform,
			NumKeys:         1000000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        60 * time.Second,
			Concurrency:     8,
			PreloadKeys:     100000,
			Seed:            12345,
		},
		{
			Name:            "write-only-sequential",
			WorkloadType:    WorkloadWriteOnly,
			KeyDistribution: DistSequential,
			NumKeys:         1000000,
			KeySize:         16,
			ValueSize:       1000, // Larger values
			Duration:        30 * time.Second,
			Concurrency:     1,
			PreloadKeys:     0,
			Seed:            12345,
		},
	}
}

// QuickWorkloads returns faster workloads for local runs and smoke tests.
func QuickWorkloads() []Config {
	return []Config{
		{
			Name:            "quick-write-heavy",
			WorkloadType:    WorkloadWriteHeavy,
			KeyDistribution: DistUniform,
			NumKeys:         50000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        15 * time.Second,
			Concurrency:     8,
			PreloadKeys:     5000,
			Seed:            12345,
		},
		{
			Name:            "quick-balanced",
			WorkloadType:    WorkloadBalanced,
			KeyDistribution: DistUniform,
			NumKeys:         50000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        15 * time.Second,
			Concurrency:     8,
			PreloadKeys:     10000,
			Seed:            12345,
		},
		{
			Name:            "quick-read-heavy",
			WorkloadType:    WorkloadReadHeavy,
			KeyDistribution: DistZipfian,
			NumKeys:         50000,
			KeySize:         16,
			ValueSize:       100,
			Duration:        15 * time.Second,
			Concurrency:     8,
			PreloadKeys:     30000,
			Seed:            12345,
		},
	}
}

// Run runs every configured workload against engine in sequence.
func (s *Suite) Run(engine common.StorageEngine) []*Result {
	results := make([]*Result, 0, len(s.configs))

	for _, config := range s.configs {
		fmt.Printf("\nRunning: %s\n", config.Name)

		bench := NewBenchmark(engine, config)
		result, err := bench.Run()
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			continue
		}

		results = append(results, result)
		s.printResult(result)
	}

	return results
}

func (s *Suite) printResult(r *Result) {
	fmt.Printf("\nResults for: %s\n", r.Config.Name)
	fmt.Printf("  Throughput: %.0f ops/sec\n", r.OpsPerSec)
	fmt.Printf("  Total Ops: %d (writes: %d, reads: %d)\n",
		r.TotalOps, r.WriteOps, r.ReadOps)

	if r.WriteOps > 0 {
		fmt.Printf("  Write Latency (μs):\n")
		fmt.Printf("    p50:  %6d\n", r.WriteLatency.P50.Microseconds())
		fmt.Printf("    p95:  %6d\n", r.WriteLatency.P95.Microseconds())
		fmt.Printf("    p99:  %6d\n", r.WriteLatency.P99.Microseconds())
		fmt.Printf("    p999: %6d\n", r.WriteLatency.P999.Microseconds())
	}

	if r.ReadOps > 0 {
		fmt.Printf("  Read Latency (μs):\n")
		fmt.Printf("    p50:  %6d\n", r.ReadLatency.P50.Microseconds())
		fmt.Printf("    p95:  %6d\n", r.ReadLatency.P95.Microseconds())
		fmt.Printf("    p99:  %6d\n", r.ReadLatency.P99.Microseconds())
		fmt.Printf("    p999: %6d\n", r.ReadLatency.P999.Microseconds())
	}

	fmt.Printf("  Amplification:\n")
	fmt.Printf("    Write: %.2fx\n", r.WriteAmplification)
	fmt.Printf("    Space: %.2fx\n", r.SpaceAmplification)
	fmt.Printf("  Disk Usage: %.1f MB\n", r.TotalDiskMB)
}

// PrintTable prints a summary table across all results collected by Run.
func (s *Suite) PrintTable(results []*Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "\n=== THROUGHPUT (ops/sec) ===")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%.0f\n", r.Config.Name, r.OpsPerSec)
	}
	w.Flush()

	fmt.Fprintln(w, "\n=== WRITE P99 LATENCY (μs) ===")
	for _, r := range results {
		if r.WriteOps > 0 {
			fmt.Fprintf(w, "%s\t%d\n", r.Config.Name, r.WriteLatency.P99.Microseconds())
		} else {
			fmt.Fprintf(w, "%s\tN/A\n", r.Config.Name)
		}
	}
	w.Flush()

	fmt.Fprintln(w, "\n=== WRITE AMPLIFICATION ===")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%.2fx\n", r.Config.Name, r.WriteAmplification)
	}
	w.Flush()
}
