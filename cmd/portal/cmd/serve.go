package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/auth"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/router"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/session"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/web"
)

var (
	serveAddr     string
	sweepInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the portal HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sugar.Info("starting school portal")

		db, users, err := openUsers(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		store, closeStore, err := openSessionStore(ctx, db)
		if err != nil {
			return err
		}
		defer closeStore()

		hasher := user.BcryptHasher{Cost: cfg.BcryptCost}
		authCfg := auth.Config{
			Issuer:       cfg.TOTP.Issuer,
			StepSeconds:  cfg.TOTP.StepSeconds,
			Window:       cfg.TOTP.Window,
			StoreTimeout: cfg.StoreTimeout,
		}
		guard := auth.NewReplayGuard(users, cfg.StoreTimeout, sugar)
		authn := auth.NewAuthenticator(users, hasher, guard, authCfg, sugar)
		prov := auth.NewProvisioning(users, hasher, authCfg, sugar)
		sessions := session.NewManager(store, session.Config{
			CookieName:   cfg.Session.CookieName,
			CookieSecure: cfg.Session.CookieSecure,
			TTL:          cfg.Session.TTL,
			RotateEvery:  cfg.Session.RotateEvery,
		}, sugar)

		pages, err := web.NewHandler(sessions, authn, prov, newUserService(users), sugar)
		if err != nil {
			return fmt.Errorf("load templates: %w", err)
		}

		addr := cfg.HTTPAddr
		if serveAddr != "" {
			addr = serveAddr
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           router.New(sugar, pages),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			sugar.Infow("http server listening", "addr", addr, "session_backend", cfg.Session.Backend)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sugar.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				sugar.Warnf("http server shutdown failed: %v", err)
			}
			return nil
		})
		if sweeper, ok := store.(session.Sweeper); ok && sweepInterval > 0 {
			g.Go(func() error {
				sweepSessions(gctx, sweeper)
				return nil
			})
		}

		err = g.Wait()
		sugar.Info("goodbye")
		return err
	},
}

// openSessionStore builds the session backend named by SESSION_BACKEND.
func openSessionStore(ctx context.Context, db *sqlx.DB) (session.Store, func(), error) {
	noop := func() {}
	switch cfg.Session.Backend {
	case "", "memory":
		return session.NewMemoryStore(), noop, nil
	case "redis":
		s, err := session.NewRedisStoreFromURL(ctx, cfg.Session.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis session store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		s := session.NewPostgresStore(db)
		if err := s.EnsureTable(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure sessions table: %w", err)
		}
		return s, noop, nil
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Session.BoltPath), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create session directory: %w", err)
		}
		s, err := session.OpenBoltStore(cfg.Session.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("bolt session store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
}

func sweepSessions(ctx context.Context, s session.Sweeper) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.DeleteExpired(ctx)
			if err != nil {
				sugar.Warnw("session sweep failed", "err", err)
				continue
			}
			if n > 0 {
				sugar.Debugw("expired sessions removed", "count", n)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides HTTP_ADDR)")
	serveCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 10*time.Minute, "How often expired sessions are purged; 0 disables")
}
