package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/WebHare/platform-sub003/internal/repositories/memory"
	"github.com/WebHare/platform-sub003/internal/repositories/postgres"
	"github.com/WebHare/platform-sub003/internal/services/updater"
	"github.com/WebHare/platform-sub003/internal/services/work"
)

var exportFields string

var exportCmd = &cobra.Command{
	Use:   "export <schema> <type> <id>",
	Short: "Print an entity as JSON",
	Args:  cobra.ExactArgs(3),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFields, "fields", "", "Comma separated fields to export (default: all)")
}

func runExport(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid entity id %q", args[2])
	}
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	schema, err := e.schemas().Get(ctx, args[0])
	if err != nil {
		return err
	}
	store := postgres.NewPostgresStore(e.pg.DB, e.cfg.Store.MaxParams)
	unit, err := work.Begin(ctx, store, schema, work.Options{Source: "wrdctl", Logger: e.logger})
	if err != nil {
		return err
	}
	defer func() { _ = unit.Rollback() }()

	// external payloads are exported by handle, so no external store is needed
	reader := updater.NewReader(updater.Config{
		Blobs:    postgres.NewPostgresBlobStore(e.pg.DB),
		External: memory.NewExternalStore(),
	})
	var fields []string
	if exportFields != "" {
		fields = strings.Split(exportFields, ",")
	}
	values, err := reader.Export(ctx, unit, args[1], id, fields)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), values)
}
