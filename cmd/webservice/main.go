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

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ohowland/cgc_acopf/internal/lib/webservice"
	"github.com/ohowland/cgc_acopf/internal/pkg/config"
	"github.com/ohowland/cgc_acopf/internal/pkg/logging"
	"github.com/ohowland/cgc_acopf/internal/pkg/root"
)

func main() {
	cfg, err := config.Load(config.Flags("webservice"), os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "webservice:", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "webservice:", err)
		os.Exit(2)
	}
	defer logger.Sync()

	req, err := cfg.Request()
	if err != nil {
		logger.Fatal("invalid request defaults", zap.Error(err))
	}

	system := root.New(cfg, logger)
	system.Start()
	defer system.Stop()

	app := &webservice.App{
		Runner:   system.Runner(),
		Metrics:  system.Metrics(),
		Defaults: req,
		Store:    webservice.NewStore(1000),
		Logger:   logger,
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("addr", cfg.Listen), zap.Strings("sinks", system.Sinks()))
	err = srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", zap.Error(err))
		return
	}
	<-idle
	logger.Info("server stopped")
}
