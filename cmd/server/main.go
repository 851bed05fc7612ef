package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TAMON-TECHNOLOGY/mothbus/common"
	"github.com/TAMON-TECHNOLOGY/mothbus/config"
	"github.com/TAMON-TECHNOLOGY/mothbus/logging"
	"github.com/TAMON-TECHNOLOGY/mothbus/server"
	"github.com/TAMON-TECHNOLOGY/mothbus/transport"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	mode := flag.String("mode", "tcp", "transport binding: tcp or rtu")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.WithLevel(logging.ParseLevel(cfg.LogLevel)))
	ctx := context.Background()

	store := server.NewMemoryStore(
		server.WithCoils(cfg.Store.Coils),
		server.WithDiscreteInputs(cfg.Store.DiscreteInputs),
		server.WithHoldingRegisters(cfg.Store.HoldingRegisters),
		server.WithInputRegisters(cfg.Store.InputRegisters),
	)

	var stop func(context.Context) error

	switch *mode {
	case "tcp":
		srv := server.NewTCPServer(cfg.TCP.Address, store,
			server.WithServerPort(cfg.TCP.Port),
			server.WithServerLogger(logger),
		)
		if err := srv.Start(ctx); err != nil {
			logger.Error(ctx, "Failed to start server: %v", err)
			os.Exit(1)
		}
		stop = srv.Stop

	case "rtu":
		port, err := transport.OpenSerialPort(cfg.RTU.SerialConfig())
		if err != nil {
			logger.Error(ctx, "Failed to open serial port: %v", err)
			os.Exit(1)
		}
		defer port.Close()

		var options []transport.RTUStreamOption
		options = append(options, transport.WithRTULogger(logger))
		if cfg.RTU.ResponseTimeoutUs > 0 {
			options = append(options, transport.WithResponseTimeout(time.Duration(cfg.RTU.ResponseTimeoutUs)*time.Microsecond))
		}
		if cfg.RTU.InterCharTimeoutUs > 0 {
			options = append(options, transport.WithInterCharTimeout(time.Duration(cfg.RTU.InterCharTimeoutUs)*time.Microsecond))
		}

		stream := transport.NewRTUStream(port, options...)
		srv := server.NewRTUServer(stream, common.UnitID(cfg.RTU.UnitID), store,
			server.WithRTUServerLogger(logger),
		)
		if err := srv.Start(ctx); err != nil {
			logger.Error(ctx, "Failed to start server: %v", err)
			os.Exit(1)
		}
		stop = srv.Stop

	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info(ctx, "Shutting down")
	stop(ctx)
}
