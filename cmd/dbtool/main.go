package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/PortNumber53/marketplace-backend/internal/config"
	"github.com/PortNumber53/marketplace-backend/internal/migrations"
)

func main() {
	// Load environment variables
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	rootCmd := &cobra.Command{
		Use:           "dbtool",
		Short:         "Manage the marketplace database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		// With no subcommand, apply pending migrations.
		RunE: runUp,
	}

	rootCmd.AddCommand(upCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(fixCmd())
	rootCmd.AddCommand(forceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB(ctx context.Context) (*sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE:  runUp,
	}
}

func runUp(cmd *cobra.Command, args []string) error {
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying migrations...")
	if err := migrations.Up(db); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	fmt.Println("Migrations applied successfully")
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the recorded schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			status, err := migrations.Status(db)
			if err != nil {
				return err
			}
			switch {
			case status.Fresh:
				fmt.Println("No migrations applied")
			case status.Dirty:
				fmt.Printf("Version %d (dirty; run `dbtool fix`)\n", status.Version)
			default:
				fmt.Printf("Version %d\n", status.Version)
			}
			return nil
		},
	}
}

func fixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fix",
		Short: "Roll a dirty schema version back so the failed migration reruns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Println("Attempting to fix dirty database...")
			if err := migrations.FixDirtyDatabase(db); err != nil {
				return fmt.Errorf("failed to fix dirty database: %w", err)
			}
			fmt.Println("Database fixed successfully")
			return nil
		},
	}
}

func forceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Record a schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version number: %s", args[0])
			}

			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Printf("Forcing database version to %d...\n", v)
			if err := migrations.ForceVersion(db, uint(v)); err != nil {
				return fmt.Errorf("failed to force version: %w", err)
			}
			fmt.Printf("Database version forced to %d\n", v)
			return nil
		},
	}
}
