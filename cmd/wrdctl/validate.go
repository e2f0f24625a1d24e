package main

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/WebHare/platform-sub003/internal/services/schemacache"
)

var validateCmd = &cobra.Command{
	Use:   "validate-schema [path]",
	Short: "Validate schema definition files",
	Long: `Parse and build every schema definition found at path, a file or a
directory. Without a path the configured SCHEMA_FILE is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := schemaFlag
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Schema.File
	}
	return validateSchemas(cmd.OutOrStdout(), path)
}

// validateSchemas builds every definition under path and reports all failures
func validateSchemas(out io.Writer, path string) error {
	defs, err := schemacache.NewYAMLProvider(path, zap.NewNop()).LoadAll()
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return fmt.Errorf("no schema definitions found at %s", path)
	}
	var result *multierror.Error
	for _, def := range defs {
		schema, err := schemacache.Build(def)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", def.Tag, err))
			continue
		}
		fmt.Fprintf(out, "%s: %d types, %d attributes\n", schema.Tag, len(schema.Types), len(schema.Attributes))
	}
	return result.ErrorOrNil()
}
