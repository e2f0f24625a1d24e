package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/WebHare/platform-sub003/internal/infrastructure/config"
	"github.com/WebHare/platform-sub003/internal/infrastructure/database"
	"github.com/WebHare/platform-sub003/internal/infrastructure/logging"
	"github.com/WebHare/platform-sub003/internal/repositories/history"
	"github.com/WebHare/platform-sub003/internal/services/schemacache"
)

var (
	envFlag    string
	schemaFlag string
)

var rootCmd = &cobra.Command{
	Use:   "wrdctl",
	Short: "Administration tool for the WRD entity store",
	Long: `Administration tool for the WRD entity store.
Validates schema definitions, exports entities and inspects or prunes their
change history.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "dev", "Environment to use (dev, test, prod)")
	rootCmd.PersistentFlags().StringVarP(&schemaFlag, "schema-file", "s", "", "Schema definition file or directory (default: SCHEMA_FILE)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(pruneCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env holds what the database commands share
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	pg     *database.Postgres
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	if err := config.InitConfig(envFlag); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	if schemaFlag != "" {
		cfg.Schema.File = schemaFlag
	}
	return cfg, logger, nil
}

func openEnv() (*env, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &env{cfg: cfg, logger: logger, pg: pg}, nil
}

func (e *env) Close() {
	_ = e.pg.Close()
	_ = e.logger.Sync()
}

func (e *env) history() (*history.GormHistoryRepository, error) {
	gdb, err := history.OpenPostgres(e.pg.DB)
	if err != nil {
		return nil, err
	}
	return history.NewGormHistoryRepository(gdb.Session(&gorm.Session{Context: context.Background()})), nil
}

func (e *env) schemas() *schemacache.Cache {
	provider := schemacache.NewYAMLProvider(e.cfg.Schema.File, e.logger)
	return schemacache.New(provider, schemacache.WithLogger(e.logger))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
