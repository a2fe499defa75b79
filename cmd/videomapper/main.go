package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rabuchanan2077/parking-lot-video/internal/app"
	"github.com/rabuchanan2077/parking-lot-video/internal/config"
	"github.com/rabuchanan2077/parking-lot-video/internal/logging"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the .properties configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	describe := flag.Bool("describe", false, "Print the resolved configuration as YAML and exit")
	flag.Parse()

	settings, cams, err := app.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "config", *configPath, "error", err)
		os.Exit(1)
	}

	closer := logging.Setup(logging.Options{Level: settings.LogLevel, File: settings.LogFile, Debug: *debug})
	defer closer.Close()

	if *describe {
		if err := config.Describe(os.Stdout, settings, cams); err != nil {
			slog.Error("failed to describe configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("starting videomapper",
		"config", *configPath,
		"debug", *debug,
		"cameras", len(cams),
	)

	svc, err := app.New(settings, cams, app.Options{})
	if err != nil {
		if errors.Is(err, config.ErrNoCameras) {
			slog.Error("no camera could be started", "error", err)
		} else {
			slog.Error("failed to create videomapper service", "error", err)
		}
		closer.Close()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx)
	}()

	exitCode := 0
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			slog.Error("service error", "error", err)
			exitCode = 1
		}
	}

	slog.Info("shutting down gracefully", "timeout", app.DefaultShutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.DefaultShutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		exitCode = 1
	}

	if exitCode != 0 {
		closer.Close()
		os.Exit(exitCode)
	}
	slog.Info("videomapper stopped successfully")
}
