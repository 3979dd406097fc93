package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/contractflow/contractflow/pkg/config"
	"github.com/contractflow/contractflow/pkg/policy"
	"github.com/contractflow/contractflow/pkg/stores"
)

const defaultConfig = `// contractflow configuration. Unset fields take the built-in defaults;
// run "cflow validate" after editing.
workflow: {
	routing_script:       "routing.star"
	min_approval_comment: 10
}

store: path: "contractflow.db"

policy: {
	bindings_file: "roles.yaml"
	watch:         true
}

telemetry: {
	log_level:  "info"
	log_format: "console"
}

server: addr: ":8080"
`

const defaultRoutingScript = `# required_tracks decides which reviews a new contract needs.
# Return [] to fall back to workflow.default_required_tracks.
def required_tracks(contract):
    if contract.amount == 0:
        return [LEGAL]
    if contract.amount >= 10000000:
        return [LEGAL, FINANCE]
    return []
`

func newInitCommand() *cobra.Command {
	var (
		dir   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a contractflow workspace",
		Long: `Initialize a workspace with a configuration file, role bindings, a routing
script and a migrated SQLite database.

Existing files are kept unless --force is given.`,
		Example: `  # Initialize the current directory
  cflow init

  # Initialize another directory, overwriting existing files
  cflow init --dir /srv/contractflow --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().Str("dir", dir).Bool("force", force).Msg("Initializing workspace")

			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}

			bindings := policy.DefaultBindings()
			bindings.Bindings = map[string][]string{"admin": {"admin"}}
			roles, err := yaml.Marshal(bindings)
			if err != nil {
				return fmt.Errorf("failed to encode role bindings: %w", err)
			}

			files := []struct {
				name    string
				content []byte
			}{
				{defaultConfigFile, []byte(defaultConfig)},
				{"roles.yaml", roles},
				{"routing.star", []byte(defaultRoutingScript)},
			}
			for _, f := range files {
				path := filepath.Join(dir, f.name)
				if _, err := os.Stat(path); err == nil && !force {
					fmt.Fprintf(cmd.OutOrStdout(), "✓ Kept existing %s\n", path)
					continue
				}
				if err := os.WriteFile(path, f.content, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s\n", path)
			}

			parser, err := config.NewCUEParser()
			if err != nil {
				return err
			}
			cfg, err := parser.Parse(filepath.Join(dir, defaultConfigFile))
			if err != nil {
				return fmt.Errorf("generated configuration is invalid: %w", err)
			}

			dbPath := resolvePath(dir, cfg.Store.Path)
			if err := initStore(cmd.Context(), dbPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Initialized SQLite database: %s\n", dbPath)

			fmt.Fprintf(cmd.OutOrStdout(), "\nWorkspace initialized. Bind your users in roles.yaml, then run:\n")
			fmt.Fprintf(cmd.OutOrStdout(), "  cflow serve\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "workspace directory")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

func initStore(ctx context.Context, path string) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer store.Close()

	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
