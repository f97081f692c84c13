// Package main runs the crash collector service.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/stackwatch/crash-collector/internal/app"
	"github.com/stackwatch/crash-collector/internal/config"
	"github.com/stackwatch/crash-collector/internal/logging"
	"github.com/stackwatch/crash-collector/internal/reporting"
	"github.com/stackwatch/crash-collector/internal/version"
)

// Exit codes: 0 clean shutdown, 1 unexpected termination, 3 startup
// verification failed, 4 fatal configuration error.
const (
	exitUnexpected   = 1
	exitVerifyFailed = 3
	exitBadConfig    = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return exitBadConfig
	}

	logger, err := logging.New(cfg.LoggingLevel, cfg.LocalDevEnv, cfg.HostID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return exitBadConfig
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	verinfo, err := version.Load(cfg.BaseDir)
	if err != nil {
		logger.Error("load version info failed", zap.Error(err))
		return exitBadConfig
	}

	if err := reporting.Setup(reporting.Config{
		DSN:     cfg.SentryDSN,
		HostID:  cfg.HostID,
		Release: verinfo.Version,
		Debug:   cfg.LocalDevEnv,
	}); err != nil {
		logger.Error("sentry init failed", zap.Error(err))
		return exitBadConfig
	}
	defer reporting.Flush(2 * time.Second)

	ctx := context.Background()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("build collector failed", zap.Error(err))
		reporting.CaptureException(err)
		return exitBadConfig
	}

	// Every adapter must prove itself before the listener binds; a
	// misconfigured replica must not silently drop crashes.
	if err := a.Verify(ctx); err != nil {
		logger.Error("startup verification failed", zap.Error(err))
		reporting.CaptureException(err)
		return exitVerifyFailed
	}

	if cfg.LocalDevEnv {
		logger.Info(fmt.Sprintf("collector is running! http://localhost:%d/", cfg.Port))
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("collector terminated", zap.Error(err))
		reporting.CaptureException(err)
		return exitUnexpected
	}
	return 0
}
