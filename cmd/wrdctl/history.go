package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories/postgres"
)

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "List the recorded changes of an entity as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var pruneDryRun bool

var pruneCmd = &cobra.Command{
	Use:   "prune-history",
	Short: "Remove changes older than the retention of their type",
	Long: `Remove recorded changes older than the keephistorydays setting of their
type, for every schema definition at SCHEMA_FILE.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Only print the cutoff per type")
}

func runHistory(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid entity id %q", args[0])
	}
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	ent, err := postgres.NewPostgresEntityRepository(e.pg.DB).Get(ctx, id)
	if err != nil {
		return err
	}
	repo, err := e.history()
	if err != nil {
		return err
	}
	changes, err := repo.ListChanges(ctx, ent.GUID)
	if err != nil {
		return err
	}
	if changes == nil {
		changes = []*entities.PortableChange{}
	}
	return writeJSON(cmd.OutOrStdout(), changes)
}

func runPrune(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	retention, err := retentionByType(e.cfg.Schema.File)
	if err != nil {
		return err
	}
	repo, err := e.history()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, r := range retention {
		cutoff := now.AddDate(0, 0, -r.days)
		if pruneDryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: would remove changes before %s\n", r.typeTag, cutoff.Format(time.RFC3339))
			continue
		}
		n, err := repo.Prune(ctx, r.typeTag, cutoff)
		if err != nil {
			return err
		}
		e.logger.Info("history pruned", zap.String("type", r.typeTag), zap.Time("cutoff", cutoff), zap.Int64("removed", n))
		fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d changes\n", r.typeTag, n)
	}
	return nil
}
