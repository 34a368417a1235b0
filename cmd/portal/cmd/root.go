package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/config"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-school-portal/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-school-portal/pkg/database"
	"github.com/ovaphlow/pitchfork/service-school-portal/pkg/utilities"
)

var (
	cfg    *config.Config
	logger *zap.Logger
	sugar  *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Morning Star school portal",
	Long: `Server-rendered school portal with password login, optional TOTP
two-factor authentication and role-gated pages.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		lg, err := utilities.Init(cfg.Log)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = lg
		sugar = lg.Sugar()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the CLI with a context cancelled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// openUsers connects to Postgres and makes sure the users table exists.
func openUsers(cmd *cobra.Command) (*sqlx.DB, *userrepo.UserRepo, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	repo := userrepo.NewUserRepo(db)
	if err := repo.EnsureTable(cmd.Context()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ensure users table: %w", err)
	}
	return db, repo, nil
}

func newUserService(store user.Store) *user.UserService {
	return user.NewUserService(store, user.BcryptHasher{Cost: cfg.BcryptCost}, cfg.StoreTimeout, sugar)
}
