package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"frameworks/api_payments/internal/store"
	"frameworks/pkg/config"
	"frameworks/pkg/database"
	"frameworks/pkg/logging"
	"frameworks/pkg/redis"
)

var (
	databaseURL string
	redisURL    string
	output      string
	verbose     bool
)

// NewRootCmd returns the root command for the payments operator CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bursarctl",
		Short:         "Bursar operator tool",
		Long:          "bursarctl manages the payments schema, payout runs, renewal sweeps and the decision log.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadEnv(newLogger(cmd.ErrOrStderr()))
		},
	}

	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "postgres URL (default $DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", "", "redis URL (default $REDIS_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "output format: json|text")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newPayoutsCmd())
	rootCmd.AddCommand(newRenewalsCmd())
	rootCmd.AddCommand(newDecisionsCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newLogger(w io.Writer) logging.Logger {
	logger := logging.NewLoggerWithService("bursarctl")
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

func resolveDatabaseURL() (string, error) {
	url := databaseURL
	if url == "" {
		url = config.GetEnv("DATABASE_URL", "")
	}
	if url == "" {
		return "", fmt.Errorf("database URL is required (--database-url or DATABASE_URL)")
	}
	return url, nil
}

// openStore connects to postgres. The caller closes the returned db.
func openStore(logger logging.Logger) (*store.Store, *sql.DB, error) {
	url, err := resolveDatabaseURL()
	if err != nil {
		return nil, nil, err
	}
	cfg := database.DefaultConfig()
	cfg.URL = url
	cfg.MaxOpenConns = 4
	cfg.MaxIdleConns = 1
	db, err := database.Connect(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return store.New(db), db, nil
}

func openRedis(ctx context.Context) (goredis.UniversalClient, error) {
	url := redisURL
	if url == "" {
		url = config.GetEnv("REDIS_URL", "redis://localhost:6379/1")
	}
	return redis.NewClientFromURL(ctx, url)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
