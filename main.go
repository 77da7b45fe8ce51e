package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/kestrelproxy/kestrel/internal/app"
	"github.com/kestrelproxy/kestrel/internal/config"
	"github.com/kestrelproxy/kestrel/internal/logger"
	"github.com/kestrelproxy/kestrel/internal/util"
	"github.com/kestrelproxy/kestrel/internal/version"
	"github.com/kestrelproxy/kestrel/pkg/format"
	"github.com/kestrelproxy/kestrel/pkg/nerdstats"
	"github.com/kestrelproxy/kestrel/pkg/profiler"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	} else {
		version.PrintVersionInfo(false, vlog)
	}

	// setup: graceful shutdown, registered before config/logger so a
	// signal during startup still unwinds cleanly
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// setup: configuration; a change to the config file only logs a
	// "configuration reloaded" line, the running logger and proxy keep
	// the values loaded here
	var styledLogger logger.StyledLogger
	cfg, err := config.Load(func() {
		if styledLogger != nil {
			styledLogger.Info("configuration reloaded")
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// setup: logging with styled logger
	lcfg := buildLoggerConfig(cfg)
	logInstance, sl, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	styledLogger = sl

	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())

	if os.Getenv("KESTREL_PROFILE") == "true" {
		profiler.InitialiseProfiler()
		styledLogger.Info("pprof profiler listening", "addr", "localhost:19841")
	}

	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	application, err := app.New(cfg, styledLogger, startTime)
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to create application", "error", err)
	}

	if err := application.Start(ctx); err != nil {
		logger.FatalWithLogger(logInstance, "Failed to start application", "error", err)
	}

	select {
	case <-ctx.Done():
	case err := <-application.Errors():
		styledLogger.Error("fatal acceptor error", "error", err)
		cancel()
	}

	if err := application.Stop(context.Background()); err != nil {
		styledLogger.Error("Error during shutdown", "error", err)
	}

	reportProcessStats(styledLogger, startTime)

	styledLogger.Info("kestrel has shut down")
}

func reportProcessStats(log logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	log.Info("Process Memory Stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
	)

	log.Info("Process Allocation Stats",
		"total_mallocs", stats.Mallocs,
		"total_frees", stats.Frees,
		"net_objects", util.SafeInt64Diff(stats.Mallocs, stats.Frees),
	)

	if stats.NumGC > 0 {
		log.Info("Garbage Collection Stats",
			"num_gc_cycles", stats.NumGC,
			"last_gc", stats.LastGC.Format(time.RFC3339),
			"total_gc_time", format.Duration(stats.TotalGCTime),
			"gc_cpu_fraction", fmt.Sprintf("%.4f%%", stats.GCCPUFraction*100),
		)
	}

	log.Info("Goroutine Stats",
		"num_goroutines", stats.NumGoroutines,
		"num_cgo_calls", stats.NumCgoCall,
	)

	log.Info("Runtime Stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)

	if buildInfo := stats.GetBuildInfoSummary(); len(buildInfo) > 0 {
		var buildArgs []any
		for key, value := range buildInfo {
			buildArgs = append(buildArgs, key, value)
		}
		log.Info("Build Info", buildArgs...)
	}

	log.Info("Process Health Summary",
		"memory_pressure", stats.GetMemoryPressure(),
		"goroutine_status", stats.GetGoroutineHealthStatus(),
		"uptime", format.Duration(stats.Uptime),
		"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
	)
}

// buildLoggerConfig adapts the proxy's loaded configuration into the
// logger package's own Config shape.
func buildLoggerConfig(cfg *config.Config) *logger.Config {
	return &logger.Config{
		Level:      cfg.Logging.Level,
		FileOutput: cfg.Logging.FileOutput,
		LogDir:     cfg.Logging.LogDir,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Theme:      cfg.Theme.Name,
		PrettyLogs: cfg.Logging.PrettyLogs,
	}
}
