package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/PortNumber53/beat-storefront/backend/internal/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrations.Up(db); err != nil {
				if migrations.IsDirty(err) {
					return fmt.Errorf("%w (run `storefrontctl migrate fix` first)", err)
				}
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			version, dirty, err := migrations.Status(db)
			if err != nil {
				return err
			}
			fmt.Printf("version: %d\ndirty:   %t\n", version, dirty)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "fix",
		Short: "Roll a dirty schema version back so it can be re-applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrations.FixDirtyDatabase(db); err != nil {
				return err
			}
			fmt.Println("database fixed")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Record a schema version as applied without running SQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version number: %s", args[0])
			}

			_, db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrations.ForceVersion(db, uint(v)); err != nil {
				return err
			}
			fmt.Printf("database version forced to %d\n", v)
			return nil
		},
	})

	return cmd
}
