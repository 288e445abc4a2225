package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/spawnctl/internal/authority/simulator"
	"github.com/danmuck/spawnctl/internal/config"
	"github.com/danmuck/spawnctl/internal/logging"
	"github.com/danmuck/spawnctl/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "cmd/authorityctl/config.toml", "path to authority config.toml")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "authorityctl: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	file, err := config.LoadAuthorityFile(path)
	if err != nil {
		return err
	}
	simCfg, err := file.Simulator()
	if err != nil {
		return err
	}
	sim, err := simulator.New(simCfg)
	if err != nil {
		return err
	}
	shutdownTracer, err := observability.InitTracer("authorityctl")
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              file.Addr,
		Handler:           simulator.NewServer(sim).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info().
			Str("addr", file.Addr).
			Int("accounts", len(simCfg.Accounts)).
			Str("creation_fee", simCfg.CreationFee.String()).
			Msg("authority_listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
