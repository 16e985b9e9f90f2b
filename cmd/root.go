package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/mirage/internal/config"
	"github.com/andresmejia3/mirage/internal/logging"
	"github.com/andresmejia3/mirage/internal/store"
	"github.com/andresmejia3/mirage/internal/utils"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// DB is the optional job history store shared by subcommands
	DB *store.Store
	// dbURL is the connection string
	dbURL string

	configPath string
	logLevel   string

	// opts is the configuration loaded for this invocation
	opts config.Options
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "mirage",
	Short:         "Face swapping for images, videos and GIFs",
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logLevel)

		var err error
		if opts, err = config.Load(configPath); err != nil {
			return err
		}

		url := resolveDBURL()
		if url == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
			DB = nil
		}
	},
}

// resolveDBURL prefers --db, then POSTGRES_* variables. History is optional,
// so an empty result means "run without a database".
func resolveDBURL() string {
	if dbURL != "" {
		return dbURL
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

// requireDB is used by commands that only make sense with history enabled.
func requireDB() error {
	if DB == nil {
		return errors.New("no database configured: pass --db or set POSTGRES_HOST")
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		utils.ShowError("Command failed", err, nil)
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		// A missing .env file is normal.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("failed to load .env")
		}
	})
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for job history (default: from POSTGRES_* env, disabled if unset)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: MIRAGE_LOG_LEVEL or warn)")
}
