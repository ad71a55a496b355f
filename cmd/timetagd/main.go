// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

// Command timetagd serves a time tagger instrument over the tagrpc wire.
// Devices are simulated; clients scan, claim a tagger, create measurements,
// and read their data remotely. Objects a client creates die with its
// connection unless freed earlier.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/photonbench/timetag-rpc/service"
	"github.com/photonbench/timetag-rpc/tagrpc"
	tagotel "github.com/photonbench/timetag-rpc/tagrpc/otel"
	"github.com/photonbench/timetag-rpc/timetag"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		host        string
		port        int
		serials     []string
		serverID    string
		logLevel    string
		logFormat   string
		otelEnabled bool
		debugFaults bool
	)

	cmd := &cobra.Command{
		Use:           "timetagd",
		Short:         "Remote-object server for time tagger instruments",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := DefaultConfig()
			if configPath != "" {
				var err error
				cfg, err = LoadConfig(configPath)
				if err != nil {
					return err
				}
			}
			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Host = host
			}
			if flags.Changed("port") {
				cfg.Port = port
			}
			if flags.Changed("serial") {
				cfg.Serials = serials
			}
			if flags.Changed("server-id") {
				cfg.ServerID = serverID
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("log-format") {
				cfg.Log.Format = logFormat
			}
			if flags.Changed("otel") {
				cfg.Otel.Enabled = otelEnabled
			}
			if flags.Changed("debug-faults") {
				cfg.DebugFaults = debugFaults
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVarP(&port, "port", "p", 23000, "listen port")
	cmd.Flags().StringSliceVar(&serials, "serial", nil, "simulated device serial (repeatable)")
	cmd.Flags().StringVar(&serverID, "server-id", "", "identifier included in response metadata")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	cmd.Flags().BoolVar(&otelEnabled, "otel", false, "enable OpenTelemetry tracing and metrics on stdout")
	cmd.Flags().BoolVar(&debugFaults, "debug-faults", false, "include server stack traces in fault responses")

	return cmd
}

func run(ctx context.Context, cfg Config) error {
	if err := setupLogger(cfg.Log); err != nil {
		return err
	}

	lab := timetag.NewLab(cfg.Serials...)
	server := tagrpc.NewServer(service.NewLibraryAdapter(lab))
	server.SetServiceName("timetagd")
	server.SetServerID(cfg.ServerID)
	server.SetDebugFaults(cfg.DebugFaults)

	if cfg.Otel.Enabled {
		shutdown, err := setupOtel(ctx)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("telemetry shutdown", "err", err)
			}
		}()
		tagotel.InstrumentServer(server, tagotel.DefaultConfig())
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.Addr())
		errCh <- server.ListenAndServe(cfg.Addr())
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return server.Close()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	}
}

// setupOtel installs stdout trace and metric exporters as the global
// providers and returns their combined shutdown.
func setupOtel(ctx context.Context) (func(context.Context) error, error) {
	traceExp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))

	metricExp, err := stdoutmetric.New()
	if err != nil {
		shutdownErr := tp.Shutdown(ctx)
		return nil, errors.Join(err, shutdownErr)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
