package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/PortNumber53/beat-storefront/backend/internal/config"
)

var Version = "dev"

func main() {
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	rootCmd := &cobra.Command{
		Use:           "storefrontctl",
		Short:         "Operator tooling for the beat storefront backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(couponCmd())
	rootCmd.AddCommand(deliveryCmd())
	rootCmd.AddCommand(orderCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// openDB loads configuration and returns a pinged database handle.
func openDB(ctx context.Context) (config.Config, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load configuration: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return config.Config{}, nil, fmt.Errorf("ping database %s: %w", cfg.DatabaseTarget(), err)
	}
	return cfg, db, nil
}
