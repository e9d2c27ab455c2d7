package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/scrabsha/tremor-runtime/internal/config"
	"github.com/scrabsha/tremor-runtime/internal/governance"
	"github.com/scrabsha/tremor-runtime/pkg/connectors"
	"github.com/scrabsha/tremor-runtime/pkg/engine"
	"github.com/scrabsha/tremor-runtime/pkg/logging"
	"github.com/scrabsha/tremor-runtime/pkg/pipeline"
	"github.com/scrabsha/tremor-runtime/pkg/telemetry"
)

type runFlags struct {
	configPath    string
	logLevel      string
	pretty        bool
	metricsAddr   string
	otlpEndpoint  string
	inputPort     string
	outputPort    string
	transactional bool
	watch         bool
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a deployment, reading events from stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to the deployment file (YAML)")
	cmd.Flags().StringVarP(&flags.logLevel, "log-level", "l", "", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().BoolVar(&flags.pretty, "pretty", false, "Human-readable log output")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on")
	cmd.Flags().StringVar(&flags.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for traces")
	cmd.Flags().StringVar(&flags.inputPort, "input", "", "Graph input port to feed from stdin (default: first declared)")
	cmd.Flags().StringVar(&flags.outputPort, "output", "", "Graph output port to write to stdout (default: first declared)")
	cmd.Flags().BoolVar(&flags.transactional, "transactional", false, "Admit events with ack/fail tracking")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "Restart the pipeline when the deployment file changes")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runPipeline(ctx context.Context, flags *runFlags) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	// Events go to stdout; keep diagnostics off that stream so the
	// delivered JSON stays pipeable.
	logging.SetupLogger(logging.Config{
		Level:  level,
		Pretty: flags.pretty || cfg.Logging.Pretty,
		Writer: os.Stderr,
	})
	logger := log.Logger

	otlpEndpoint := cfg.Telemetry.OTLPEndpoint
	if flags.otlpEndpoint != "" {
		otlpEndpoint = flags.otlpEndpoint
	}
	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "tremor",
		Endpoint:    otlpEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	metrics := telemetry.NewPipelineMetrics()
	metricsAddr := cfg.Telemetry.MetricsAddr
	if flags.metricsAddr != "" {
		metricsAddr = flags.metricsAddr
	}

	group, ctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server := &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			logger.Info().Str("addr", metricsAddr).Msg("serving metrics")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if flags.watch {
		provider, err := config.NewFileProvider(flags.configPath, logger)
		if err != nil {
			return err
		}
		defer func() { _ = provider.Close() }()
		group.Go(func() error {
			return superviseGenerations(ctx, provider.Subscribe(), flags, logger, metrics)
		})
		return group.Wait()
	}

	group.Go(func() error {
		return runOnce(ctx, cfg, flags, logger, metrics)
	})
	return group.Wait()
}

// superviseGenerations runs one pipeline generation per deployment
// version: each reload cancels the running generation and starts a
// fresh one from the new config.
func superviseGenerations(ctx context.Context, updates <-chan *config.Config, flags *runFlags, logger zerolog.Logger, metrics *telemetry.PipelineMetrics) error {
	var next *config.Config
	select {
	case next = <-updates:
	case <-ctx.Done():
		return nil
	}

	for {
		genCtx, cancelGen := context.WithCancel(ctx)
		current := next
		errCh := make(chan error, 1)
		go func() {
			errCh <- runOnce(genCtx, current, flags, logger, metrics)
		}()

		select {
		case next = <-updates:
			cancelGen()
			if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info().Msg("restarting pipeline for new deployment")
		case err := <-errCh:
			cancelGen()
			return err
		case <-ctx.Done():
			cancelGen()
			<-errCh
			return nil
		}
	}
}

// runOnce compiles and runs one pipeline generation, feeding it from
// stdin and writing deliveries to stdout. It returns when stdin is
// exhausted, the context is cancelled, or the pipeline faults.
func runOnce(ctx context.Context, cfg *config.Config, flags *runFlags, logger zerolog.Logger, metrics *telemetry.PipelineMetrics) error {
	operators, err := config.BuildOperators(ctx, &cfg.Pipeline)
	if err != nil {
		return err
	}
	graph, err := pipeline.Build(&cfg.Pipeline, operators)
	if err != nil {
		return err
	}

	pipe := engine.NewPipeline(graph, engine.Options{
		TickInterval: cfg.Runtime.TickInterval.Std(),
		InboxSize:    cfg.Runtime.InboxSize,
		Logger:       logger,
		Metrics:      metrics,
		Breaker: governance.Config{
			MaxFailures:       cfg.Runtime.Breaker.MaxFailures,
			Timeout:           cfg.Runtime.Breaker.Timeout.Std(),
			MaxHalfOpenProbes: cfg.Runtime.Breaker.HalfOpenProbes,
		},
	})

	inputPort := flags.inputPort
	if inputPort == "" {
		inputPort = cfg.Pipeline.Inputs[0]
	}
	outputPort := flags.outputPort
	if outputPort == "" {
		outputPort = cfg.Pipeline.Outputs[0]
	}

	source := connectors.NewLineSource("stdin", os.Stdin, flags.transactional, logger)
	if err := pipe.BindSource(source); err != nil {
		return err
	}
	if err := pipe.BindSink(outputPort, connectors.NewWriteSink(os.Stdout)); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, runCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return pipe.Run(runCtx)
	})
	group.Go(func() error {
		defer cancel()
		if err := source.Pump(runCtx, pipe, inputPort); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("reading stdin: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
