// Command prune_rooms deletes rooms that have seen no activity for longer
// than the configured TTL. Participants, votes and history go with them.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/planningpoker/go/internal/config"
	"github.com/mcdev12/planningpoker/go/internal/dbconfig"
	"github.com/spf13/cobra"
)

// A room is stale when neither the room, its participants nor its votes have
// changed since the cutoff.
const staleRooms = `
    FROM rooms r
    WHERE r.updated_at < $1
      AND NOT EXISTS (SELECT 1 FROM participants p WHERE p.room_id = r.id AND p.joined_at >= $1)
      AND NOT EXISTS (SELECT 1 FROM votes v WHERE v.room_id = r.id AND v.voted_at >= $1)
`

func main() {
	var (
		ttl    time.Duration
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:          "prune_rooms",
		Short:        "Delete planning rooms with no recent activity",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flag("ttl").Changed {
				cfg, err := config.Load(config.DefaultConfigPath, false)
				if err != nil {
					return err
				}
				ttl = cfg.RoomTTL
			}
			if ttl <= 0 {
				return fmt.Errorf("ttl must be positive, got %s", ttl)
			}
			return prune(cmd.Context(), ttl, dryRun)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "delete rooms idle for longer than this (default ROOM_TTL)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only count stale rooms")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func prune(ctx context.Context, ttl time.Duration, dryRun bool) error {
	// 1) Connect using shared dbconfig
	cfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		return err
	}
	if cfg.Driver != dbconfig.DriverPostgres {
		return fmt.Errorf("prune_rooms needs DB_DRIVER=%s, got %q", dbconfig.DriverPostgres, cfg.Driver)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer pool.Close()

	cutoff := time.Now().Add(-ttl).UTC()

	// 2) Count, or delete and count
	if dryRun {
		var stale int64
		if err := pool.QueryRow(ctx, "SELECT count(*)"+staleRooms, cutoff).Scan(&stale); err != nil {
			return fmt.Errorf("failed to count stale rooms: %w", err)
		}
		fmt.Printf("Room prune dry run: %d rooms idle since %s\n", stale, cutoff.Format(time.RFC3339))
		return nil
	}

	cmdTag, err := pool.Exec(ctx, "DELETE"+staleRooms, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete stale rooms: %w", err)
	}

	// 3) Print summary
	fmt.Printf(
		"Room prune complete: %d rooms idle since %s deleted\n",
		cmdTag.RowsAffected(), cutoff.Format(time.RFC3339),
	)
	return nil
}
