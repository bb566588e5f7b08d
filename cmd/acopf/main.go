package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ohowland/cgc_acopf/internal/pkg/config"
	"github.com/ohowland/cgc_acopf/internal/pkg/logging"
	"github.com/ohowland/cgc_acopf/internal/pkg/root"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	cfg, err := config.Load(config.Flags("acopf"), args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "acopf:", err)
		return 2
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "acopf:", err)
		return 2
	}
	defer logger.Sync()

	req, err := cfg.Request()
	if err != nil {
		logger.Error("invalid request", zap.Error(err))
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	system := root.New(cfg, logger)
	system.Start()
	defer system.Stop()

	logger.Info("starting", zap.String("file", cfg.File), zap.String("model", cfg.Model), zap.Strings("sinks", system.Sinks()))
	s, err := system.Runner().File(ctx, cfg.File, req)
	if err != nil {
		return 1
	}
	fmt.Print(s.ResultLine())
	return 0
}
