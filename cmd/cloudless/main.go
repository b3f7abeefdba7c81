// Package main runs the cloudless method server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/cloudless/internal/app"
	"github.com/R3E-Network/cloudless/internal/config"
	"github.com/R3E-Network/cloudless/internal/logging"
)

func main() {
	envFile := flag.String("env", ".env", "Optional dotenv file")
	addr := flag.String("addr", "", "Listen address (overrides HTTP_ADDR)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logging.NewDefault("cloudless").WithError(err).Fatal("Failed to load configuration")
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	log := logging.New("cloudless", logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to build application")
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.WithError(err).Warn("Failed to release resources")
		}
	}()

	if err := application.Run(ctx); err != nil {
		log.WithError(err).Error("Server stopped with error")
		stop()
		_ = application.Close()
		os.Exit(1)
	}
}
