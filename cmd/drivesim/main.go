package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unzipq/unzipq/internal/drivesim"
	"github.com/unzipq/unzipq/internal/tracing"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	addr := getenv("DRIVESIM_ADDR", ":8765")
	cookie := getenv("DRIVESIM_COOKIE", "__puus=demo")
	fixturePath := getenv("DRIVESIM_FIXTURE", "")

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("service", "drivesim")
	slog.SetDefault(logger)

	store := drivesim.NewStore()
	if fixturePath != "" {
		fx, err := drivesim.LoadFixture(fixturePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "[ERROR] load fixture:", err)
			os.Exit(1)
		}
		if err := fx.Apply(store); err != nil {
			fmt.Fprintln(os.Stderr, "[ERROR] apply fixture:", err)
			os.Exit(1)
		}
		if fx.Cookie != "" {
			cookie = fx.Cookie
		}
		logger.Info("fixture applied", "path", fixturePath)
	}

	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:     getenv("DRIVESIM_TRACE", "") != "",
		ServiceName: "drivesim",
	}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] tracing:", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           drivesim.NewRouter(store, cookie, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("drive simulator listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, "[ERROR] http server:", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if shutdownTracing != nil {
		_ = shutdownTracing(ctx)
	}
}
