package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"alarm-monitor/internal/config"
	"alarm-monitor/internal/observability"
	"alarm-monitor/internal/service"
	"alarm-monitor/internal/store"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the configuration file")
	once := flag.Bool("once", false, "run a single poll cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logging)

	logger.Info().
		Str("version", version).
		Msg("Starting alarm monitor")

	shutdownTracer, err := observability.InitTracer(cfg.Tracing, "alarm-monitor", version)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize tracer")
	} else {
		defer shutdownTracer(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Cannot reach database")
		os.Exit(1)
	}
	defer st.Close()

	monitor := service.NewMonitor(cfg, st, logger)

	if *once {
		if err := monitor.RunSingleCycle(ctx); err != nil {
			logger.Error().Err(err).Msg("Single cycle failed")
			st.Close()
			os.Exit(1)
		}
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- monitor.Run(ctx)
	}()

	select {
	case <-sigChan:
		logger.Info().Msg("Received shutdown signal")
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil {
			logger.Error().Err(err).Msg("Monitor failed")
			st.Close()
			os.Exit(1)
		}
	}

	logger.Info().Msg("Alarm monitor stopped")
}
