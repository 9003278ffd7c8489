// Command gateway runs the HTTP/JSON to gRPC API gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/config"
	"github.com/kestrelgw/kestrel/internal/gateway"
	"github.com/kestrelgw/kestrel/internal/logging"
)

// Exit codes: 1 bad configuration, 2 startup failure, 3 shutdown did not
// finish within its budget.
const (
	exitConfig   = 1
	exitStartup  = 2
	exitShutdown = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "gateway.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfig
	}

	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return exitConfig
	}
	logging.SetGlobal(logger)

	srv, err := gateway.New(cfg)
	if err != nil {
		logging.Error("startup failed", zap.Error(err))
		return exitStartup
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		if ctx.Err() != nil {
			logging.Error("shutdown exceeded budget", zap.Error(err))
			return exitShutdown
		}
		logging.Error("server failed", zap.Error(err))
		return exitStartup
	}
	return 0
}
