package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"monarch-pipeline/internal/config"
	"monarch-pipeline/internal/models"
	"monarch-pipeline/internal/pipeline"
	"monarch-pipeline/internal/sources"
	"monarch-pipeline/pkg/logging"
	"monarch-pipeline/pkg/metrics"
)

const version = "1.0.0"

func main() {
	// Parse command-line flags
	deployments := flag.String("deployments", "all", "Comma-separated deployment IDs, or 'all'")
	windowPolicy := flag.String("window-policy", string(models.PolicyFixed24h), "Exposure window policy: fixed_24h or functional_sunset")
	output := flag.String("output", "lag_pairs.csv", "Output CSV path")
	countDir := flag.String("count-dir", "", "Override directory of per-deployment count JSON files")
	temperatureFile := flag.String("temperature-file", "", "Override per-image temperature CSV path")
	windDBDir := flag.String("wind-db-dir", "", "Override directory of wind meter .s3db archives")
	deploymentsFile := flag.String("deployments-file", "", "Override deployment metadata CSV path")
	minPhotos := flag.Int("min-photos", 0, "Override minimum daytime photos per valid day")
	maxPhotos := flag.Int("max-photos", 0, "Override maximum daytime photos per valid day")
	metricsListen := flag.String("metrics-listen", "", "Serve Prometheus metrics on this address during the run")
	checkWindDBs := flag.Bool("check-wind-dbs", false, "Audit wind meter archives against deployment metadata and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(cfg, *countDir, *temperatureFile, *windDBDir, *deploymentsFile, *minPhotos, *maxPhotos, *metricsListen)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	policy, err := models.ParseWindowPolicy(*windowPolicy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("monarch-pipeline", version, logging.ParseLevel(cfg.Logging.Level))

	ctx := logging.WithRunID(context.Background(), time.Now().UTC().Format("20060102T150405Z"))
	logger.Info(ctx, "[PIPELINE_START] Starting lag-pair construction", logging.Fields{
		"version":       version,
		"window_policy": string(policy),
		"count_dir":     cfg.Data.CountDir,
		"wind_db_dir":   cfg.Data.WindDBDir,
		"output":        *output,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("monarch_pipeline")
	if cfg.Metrics.ListenAddr != "" {
		serveMetrics(cfg.Metrics.ListenAddr, logger)
	}

	// Load deployment metadata
	meta, err := sources.LoadDeploymentMeta(cfg.Data.DeploymentsFile)
	if err != nil {
		logger.Fatal(ctx, "[PIPELINE_ERROR] Failed to load deployment metadata", logging.Fields{
			"path": cfg.Data.DeploymentsFile,
		}, err)
	}

	if *checkWindDBs {
		os.Exit(runWindDBCheck(meta, cfg.Data.WindDBDir))
	}

	// Night periods: built-in table unless an override file is configured
	nights := sources.DefaultNightTable()
	if cfg.Data.NightPeriodFile != "" {
		nights, err = sources.LoadNightTable(cfg.Data.NightPeriodFile)
		if err != nil {
			logger.Fatal(ctx, "[PIPELINE_ERROR] Failed to load night period table", logging.Fields{
				"path": cfg.Data.NightPeriodFile,
			}, err)
		}
	}

	// Initialize sources
	counts := sources.NewCountReader(cfg.Data.CountDir, nights, sources.DefaultDownsampleRules(), logger, metricsCollector)
	temps := sources.NewTempReader(logger, metricsCollector)
	if err := temps.Load(ctx, cfg.Data.TemperatureFile); err != nil {
		logger.Fatal(ctx, "[PIPELINE_ERROR] Failed to load temperature data", logging.Fields{
			"path": cfg.Data.TemperatureFile,
		}, err)
	}
	winds := sources.NewWindReader(cfg.Data.WindDBDir, meta, logger, metricsCollector)
	defer winds.Close()

	deploymentIDs, err := resolveDeployments(counts, *deployments)
	if err != nil {
		logger.Fatal(ctx, "[PIPELINE_ERROR] Failed to resolve deployments", logging.Fields{
			"deployments": *deployments,
		}, err)
	}

	// Run the pipeline
	runner := pipeline.NewRunner(cfg, policy, counts, temps, winds, logger, metricsCollector)
	result, err := runner.Run(ctx, deploymentIDs)
	if err != nil {
		logger.Fatal(ctx, "[PIPELINE_ERROR] Run failed", logging.Fields{}, err)
	}

	// Write output
	f, err := os.Create(*output)
	if err != nil {
		logger.Fatal(ctx, "[PIPELINE_ERROR] Failed to create output file", logging.Fields{
			"path": *output,
		}, err)
	}
	writer := pipeline.NewCSVWriter(meta, cfg.Pipeline.TempThresholdC, cfg.Pipeline.GustThresholdMS)
	if err := writer.Write(f, result.Pairs); err != nil {
		f.Close()
		logger.Fatal(ctx, "[PIPELINE_ERROR] Failed to write output", logging.Fields{
			"path": *output,
		}, err)
	}
	if err := f.Close(); err != nil {
		logger.Fatal(ctx, "[PIPELINE_ERROR] Failed to close output", logging.Fields{
			"path": *output,
		}, err)
	}

	printSummary(result, *output)

	logger.Info(ctx, "[PIPELINE_COMPLETE] Lag-pair construction finished", logging.Fields{
		"deployments_processed": result.Summary.DeploymentsProcessed,
		"deployments_failed":    result.Summary.DeploymentsFailed,
		"pairs_emitted":         len(result.Pairs),
		"output":                *output,
	})

	// An empty table means the run produced nothing usable downstream.
	if len(result.Pairs) == 0 {
		fmt.Fprintln(os.Stderr, "No lag pairs produced")
		os.Exit(1)
	}
}

// applyFlagOverrides lets CLI flags override the environment configuration.
func applyFlagOverrides(cfg *config.Config, countDir, temperatureFile, windDBDir, deploymentsFile string, minPhotos, maxPhotos int, metricsListen string) {
	if countDir != "" {
		cfg.Data.CountDir = countDir
	}
	if temperatureFile != "" {
		cfg.Data.TemperatureFile = temperatureFile
	}
	if windDBDir != "" {
		cfg.Data.WindDBDir = windDBDir
	}
	if deploymentsFile != "" {
		cfg.Data.DeploymentsFile = deploymentsFile
	}
	if minPhotos > 0 {
		cfg.Pipeline.MinPhotosPerDay = minPhotos
	}
	if maxPhotos > 0 {
		cfg.Pipeline.MaxPhotosPerDay = maxPhotos
	}
	if metricsListen != "" {
		cfg.Metrics.ListenAddr = metricsListen
	}
}

// resolveDeployments expands the -deployments flag against the count store.
func resolveDeployments(counts *sources.CountReader, selector string) ([]string, error) {
	available, err := counts.ListDeployments()
	if err != nil {
		return nil, err
	}
	if selector == "all" {
		return available, nil
	}

	known := make(map[string]bool, len(available))
	for _, id := range available {
		known[id] = true
	}

	var selected []string
	for _, id := range strings.Split(selector, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !known[id] {
			return nil, fmt.Errorf("unknown deployment %q", id)
		}
		selected = append(selected, id)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no deployments selected")
	}
	sort.Strings(selected)
	return selected, nil
}

// serveMetrics exposes /metrics and /healthz for the duration of the run.
func serveMetrics(addr string, logger *logging.StructuredLogger) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)

	go func() {
		if err := http.ListenAndServe(addr, router); err != nil {
			logger.Warn(context.Background(), "[METRICS_SERVER] Metrics endpoint stopped", logging.Fields{
				"addr":  addr,
				"error": err.Error(),
			})
		}
	}()
}

// runWindDBCheck audits archive files against the metadata's meter names.
func runWindDBCheck(meta map[string]models.DeploymentMeta, windDir string) int {
	report, err := sources.CheckWindDBs(meta, windDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Wind DB check failed: %v\n", err)
		return 1
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("WIND METER ARCHIVE CHECK")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Unique Meters:   %d\n", report.UniqueMeters)
	fmt.Printf("Files Present:   %d\n", report.FilesPresent)
	for _, m := range report.Missing {
		fmt.Printf("  MISSING: %s\n", m)
	}
	for _, pair := range report.CaseMismatch {
		fmt.Printf("  CASE MISMATCH: meter %q vs file %q\n", pair[0], pair[1])
	}
	for _, e := range report.Extras {
		fmt.Printf("  UNREFERENCED: %s\n", e)
	}

	if !report.OK() {
		return 1
	}
	fmt.Println("All referenced wind meter archives present")
	return 0
}

// printSummary renders the end-of-run report.
func printSummary(result pipeline.RunResult, output string) {
	s := result.Summary

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("LAG-PAIR CONSTRUCTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Deployments Processed: %d\n", s.DeploymentsProcessed)
	fmt.Printf("Deployments Failed:    %d\n", s.DeploymentsFailed)
	fmt.Printf("Deployments No Wind:   %d\n", s.DeploymentsNoWind)
	fmt.Printf("Deployments Empty:     %d\n", s.DeploymentsEmpty)
	fmt.Println()
	fmt.Printf("Images Parsed:         %d\n", s.Counts.Parsed)
	fmt.Printf("Images Dropped:        %d\n", s.Counts.Dropped)
	fmt.Printf("Images Downsampled:    %d\n", s.Counts.Downsampled)
	fmt.Println()
	fmt.Printf("Days Seen:             %d\n", s.Daily.DaysSeen)
	fmt.Printf("Days Aggregated:       %d\n", s.Daily.DaysAggregated)
	fmt.Printf("Days Too Few Photos:   %d\n", s.Daily.DaysTooFewPhotos)
	fmt.Printf("Days Too Many Photos:  %d\n", s.Daily.DaysTooMany)
	fmt.Println()
	fmt.Printf("Pair Candidates:       %d\n", s.Assembly.Candidates)
	fmt.Printf("Gaps Skipped:          %d\n", s.Assembly.GapsSkipped)
	fmt.Printf("Zero-Zero Excluded:    %d\n", s.Assembly.ExcludedZeroZero)
	fmt.Printf("Lag Pairs Written:     %d\n", len(result.Pairs))
	fmt.Printf("Output:                %s\n", output)

	if len(s.Best) > 0 {
		fmt.Println()
		fmt.Println("Best response transform per metric (Shapiro-Wilk W):")
		metricsOrder := make([]string, 0, len(s.Best))
		for m := range s.Best {
			metricsOrder = append(metricsOrder, m)
		}
		sort.Strings(metricsOrder)
		for _, m := range metricsOrder {
			best := s.Best[m]
			fmt.Printf("  %-18s %-10s W=%.4f (n=%d)\n", m, best.Transform, best.W, best.N)
		}
	}
}
