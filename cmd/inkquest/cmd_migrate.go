package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inkquest/inkquest/config"
	"github.com/inkquest/inkquest/internal/domain/achievement"
	"github.com/inkquest/inkquest/internal/infrastructure/catalog"
	"github.com/inkquest/inkquest/internal/infrastructure/persistence/postgres"
)

var errPostgresOnly = errors.New("this command needs STORE_DRIVER=postgres")

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Apply, roll back or list database migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := "up"
		if len(args) == 1 {
			direction = args[0]
		}
		if cfg.Store != config.StorePostgres {
			return errPostgresOnly
		}

		ctx := cmd.Context()
		migrator := postgres.NewMigrator(cfg.Database.URL, log)
		switch direction {
		case "up":
			applied, err := migrator.Up(ctx)
			if err != nil {
				return err
			}
			log.Info("database schema is up to date", "applied", applied)

		case "down":
			version, err := migrator.Down(ctx)
			if err != nil {
				return err
			}
			if version == 0 {
				log.Info("nothing to roll back")
			} else {
				log.Info("migration rolled back", "version", version)
			}

		case "status":
			state, err := migrator.State(ctx)
			if err != nil {
				return err
			}
			migrations, err := postgres.Migrations()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATE")
			for _, m := range migrations {
				fmt.Fprintf(w, "%06d\t%s\t%s\n", m.Version, m.Name, migrationState(m.Version, state))
			}
			return w.Flush()
		}
		return nil
	},
}

func migrationState(v uint, state postgres.MigrationState) string {
	switch {
	case v > state.Version:
		return "pending"
	case v == state.Version && state.Dirty:
		return "dirty"
	default:
		return "applied"
	}
}

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert the achievement catalog into the database",
	Long: `Upsert the achievement catalog into the database. Definitions are
matched by id; existing user progress is kept.

Without --file the catalog from CATALOG_FILE (or the embedded default) is used.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store != config.StorePostgres {
			return errPostgresOnly
		}

		path := seedFile
		if path == "" {
			path = cfg.Engine.CatalogFile
		}
		cat, err := catalog.Load(path)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		conn, err := connectPostgres(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer conn.Close()

		exp := postgres.NewExperienceRepository(conn)
		n, err := seedCatalog(ctx, postgres.NewStatsRepository(conn, exp), cat)
		if err != nil {
			return err
		}
		log.Info("catalog seeded", "source", cat.Source, "definitions", n)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "catalog TOML file")
}

// seedCatalog writes every definition of cat to repo.
func seedCatalog(ctx context.Context, repo achievement.CatalogRepository, cat *catalog.Catalog) (int, error) {
	n, err := repo.UpsertDefinitions(ctx, cat.Definitions)
	if err != nil {
		return 0, fmt.Errorf("failed to seed catalog from %s: %w", cat.Source, err)
	}
	return n, nil
}
