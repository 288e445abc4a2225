package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/spawnctl/internal/api"
	"github.com/danmuck/spawnctl/internal/authority"
	"github.com/danmuck/spawnctl/internal/authority/simulator"
	"github.com/danmuck/spawnctl/internal/fetch"
	"github.com/danmuck/spawnctl/internal/logging"
	"github.com/danmuck/spawnctl/internal/observability"
	"github.com/danmuck/spawnctl/internal/provision"
	"github.com/danmuck/spawnctl/internal/userstore"
	"github.com/danmuck/spawnctl/internal/wallet"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to spawnctl config.toml (defaults when empty)")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "spawnctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadServiceConfig(configPath)
	if err != nil {
		return err
	}
	shutdownTracer, err := observability.InitTracer(cfg.Name)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.EmbeddedAuthorityAddr != "" {
		base, err := startEmbeddedAuthority(ctx, g, cfg)
		if err != nil {
			return err
		}
		cfg.AuthorityURL = base
		cfg.Provision.CodeURL = base + "/modules/" + userstore.ModuleName
	}

	client, err := authority.NewClient(authority.ClientConfig{
		BaseURL: cfg.AuthorityURL,
		Self:    cfg.SelfPrincipal,
	})
	if err != nil {
		return err
	}
	reporter, err := wallet.NewReporter(client, cfg.MaxTicks)
	if err != nil {
		return err
	}
	prov, err := provision.New(cfg.Provision, provision.Deps{
		Authority: client,
		Fetcher:   fetch.NewClient(fetch.Config{}),
		Sampler:   reporter,
	})
	if err != nil {
		return err
	}

	srv := api.NewServer(api.Config{
		Name:        cfg.Name,
		Addr:        cfg.ListenAddr,
		CORSOrigins: cfg.CORSOrigins,
	}, prov, reporter).HTTPServer()
	log.Info().
		Str("addr", cfg.ListenAddr).
		Str("authority", cfg.AuthorityURL).
		Str("self", string(cfg.SelfPrincipal)).
		Msg("spawnctl_listening")
	serveHTTP(ctx, g, srv, nil)
	return g.Wait()
}

// startEmbeddedAuthority runs a simulator funded for cfg.SelfPrincipal and returns its base URL.
func startEmbeddedAuthority(ctx context.Context, g *errgroup.Group, cfg serviceConfig) (string, error) {
	simCfg := simulator.DefaultConfig()
	simCfg.Accounts[cfg.SelfPrincipal] = cfg.EmbeddedAuthorityFunds
	sim, err := simulator.New(simCfg)
	if err != nil {
		return "", err
	}
	ln, err := net.Listen("tcp", cfg.EmbeddedAuthorityAddr)
	if err != nil {
		return "", fmt.Errorf("embedded authority listen: %w", err)
	}
	srv := &http.Server{
		Handler:           simulator.NewServer(sim).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveHTTP(ctx, g, srv, ln)
	base := "http://" + ln.Addr().String()
	log.Info().Str("addr", base).Msg("embedded_authority_listening")
	return base, nil
}

// serveHTTP runs srv in g and shuts it down when ctx ends. A nil ln listens on srv.Addr.
func serveHTTP(ctx context.Context, g *errgroup.Group, srv *http.Server, ln net.Listener) {
	g.Go(func() error {
		var err error
		if ln != nil {
			err = srv.Serve(ln)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
