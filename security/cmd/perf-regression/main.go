// Command perf-regression compares two `go test -bench` outputs and
// fails when a hot-path benchmark exceeds its regression budget.
//
//	go test -bench 'Login|Refresh|ValidateAccess|MetricsIncParallel' -count 6 . > base.txt
//	... apply the change ...
//	go test -bench 'Login|Refresh|ValidateAccess|MetricsIncParallel' -count 6 . > cand.txt
//	perf-regression -baseline base.txt -candidate cand.txt
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
)

// budgets is the allowed fractional slowdown per benchmark metric.
// Token validation is the hot path: tight time budget and zero new
// allocations. Login is argon2-dominated and noisy between runs, so it
// gets the widest band.
var budgets = map[string]map[string]float64{
	"BenchmarkValidateAccess":     {"ns/op": 0.15, "allocs/op": 0.0},
	"BenchmarkRefresh":            {"ns/op": 0.25},
	"BenchmarkLogin":              {"ns/op": 0.50},
	"BenchmarkMetricsIncParallel": {"ns/op": 0.20},
}

// bench holds the aggregated value per metric unit for one benchmark.
type bench map[string]float64

func main() {
	var (
		baselinePath  string
		candidatePath string
		slack         float64
	)
	flag.StringVar(&baselinePath, "baseline", "", "benchmark output before the change")
	flag.StringVar(&candidatePath, "candidate", "", "benchmark output after the change")
	flag.Float64Var(&slack, "slack", 1.0, "multiplier applied to every budget (2.0 doubles the allowance)")
	flag.Parse()

	if baselinePath == "" || candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required")
		os.Exit(2)
	}
	if slack <= 0 {
		fmt.Fprintln(os.Stderr, "-slack must be > 0")
		os.Exit(2)
	}

	baseline, err := readBenchFile(baselinePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := readBenchFile(candidatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "candidate: %v\n", err)
		os.Exit(1)
	}

	failures := report(os.Stdout, baseline, candidate, slack)
	if len(failures) > 0 {
		fmt.Fprintln(os.Stderr, "regression budget exceeded:")
		for _, f := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", f)
		}
		os.Exit(1)
	}
}

func readBenchFile(path string) (map[string]bench, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseBench(file)
}

// parseBench reads `go test -bench` output and aggregates repeated runs
// of each tracked benchmark: minimum for timings (the least-noise
// estimate), maximum for allocation counts.
func parseBench(r io.Reader) (map[string]bench, error) {
	out := make(map[string]bench, len(budgets))

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		name := trimProcSuffix(fields[0])
		if _, tracked := budgets[name]; !tracked {
			continue
		}

		row, ok := out[name]
		if !ok {
			row = bench{}
			out[name] = row
		}
		for i := 2; i+1 < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			unit := fields[i+1]
			prev, seen := row[unit]
			switch {
			case !seen:
				row[unit] = value
			case unit == "allocs/op" || unit == "B/op":
				row[unit] = max(prev, value)
			default:
				row[unit] = min(prev, value)
			}
		}
	}
	return out, scanner.Err()
}

// trimProcSuffix drops the -GOMAXPROCS suffix go test appends to
// benchmark names.
func trimProcSuffix(name string) string {
	idx := strings.LastIndexByte(name, '-')
	if idx <= 0 {
		return name
	}
	if _, err := strconv.Atoi(name[idx+1:]); err != nil {
		return name
	}
	return name[:idx]
}

// report prints the comparison table and returns one failure line per
// exceeded budget or missing sample.
func report(w io.Writer, baseline, candidate map[string]bench, slack float64) []string {
	var failures []string

	tab := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tab, "benchmark\tmetric\tbaseline\tcandidate\tdelta\tbudget")

	for name, limits := range budgets {
		for unit, limit := range limits {
			base, baseOK := baseline[name][unit]
			cand, candOK := candidate[name][unit]
			if !baseOK || !candOK {
				failures = append(failures, fmt.Sprintf("%s %s: no samples on both sides", name, unit))
				continue
			}

			allowed := limit * slack
			var delta float64
			switch {
			case base > 0:
				delta = (cand - base) / base
			case cand > base:
				// Zero baseline (e.g. allocs/op 0): any increase busts
				// the budget outright.
				delta = 1
			}

			fmt.Fprintf(tab, "%s\t%s\t%.1f\t%.1f\t%+.1f%%\t%+.1f%%\n",
				name, unit, base, cand, delta*100, allowed*100)
			if delta > allowed {
				failures = append(failures, fmt.Sprintf("%s %s: %+.1f%% over a %+.1f%% budget", name, unit, delta*100, allowed*100))
			}
		}
	}

	tab.Flush()
	return failures
}
