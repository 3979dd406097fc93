package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/contractflow/contractflow/pkg/config"
	"github.com/contractflow/contractflow/pkg/policy"
	"github.com/contractflow/contractflow/pkg/workflow"
)

func newValidateCommand() *cobra.Command {
	var (
		printConfig  bool
		showSchema   bool
		showBindings bool
		explainActor string
		capability   string
		trackType    string
		tier         string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, role bindings, policy and routing script",
		Long: `Validate the configuration without touching the database.

This command checks:
  - CUE syntax and conformance to the built-in schema
  - Field constraints (tracks, comment length, timeouts)
  - Role bindings (known capabilities, bound roles exist)
  - The Rego policy module compiles
  - The routing script defines required_tracks(contract)

With --explain the compiled policy is asked whether an actor holds a
capability, optionally narrowed to a track type and tier.`,
		Example: `  # Validate ./cflow.cue
  cflow validate

  # Validate a specific file and print the effective configuration
  cflow validate --config ./deploy/cflow.cue --print

  # List who is bound to which roles
  cflow validate --bindings

  # Check whether lena may decide a head-tier legal track
  cflow validate --explain lena --capability approval:legal:act --track-type LEGAL --tier HEAD`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showSchema {
				fmt.Fprint(cmd.OutOrStdout(), config.Schema())
				return nil
			}

			cfg, base, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✓ Configuration is valid")

			logger := zerolog.Nop()
			loader := policy.NewLoader(logger)
			bindings := policy.DefaultBindings()
			if f := cfg.Policy.BindingsFile; f != "" {
				if bindings, err = loader.LoadBindings(resolvePath(base, f)); err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Role bindings: %d roles, %d actors\n", len(bindings.Roles), len(bindings.Bindings))
			}

			var opts []policy.Option
			if f := cfg.Policy.ModuleFile; f != "" {
				module, err := loader.LoadModule(resolvePath(base, f))
				if err != nil {
					return err
				}
				opts = append(opts, policy.WithModule(module))
			}
			oracle, err := policy.NewEngine(logger, bindings, opts...)
			if err != nil {
				return fmt.Errorf("policy does not compile: %w", err)
			}
			fmt.Fprintln(out, "✓ Policy compiles")

			if showBindings {
				printBindings(out, bindings)
			}
			if explainActor != "" {
				scope := workflow.Scope{
					TrackType: workflow.TrackType(strings.ToUpper(trackType)),
					ActorRole: workflow.ActorRole(strings.ToUpper(tier)),
				}
				if err := explain(cmd, oracle, explainActor, workflow.Capability(capability), scope); err != nil {
					return err
				}
			}

			if f := cfg.Workflow.RoutingScript; f != "" {
				if _, err := config.LoadStarlarkRouter(resolvePath(base, f), cfg.RoutingTimeout()); err != nil {
					return err
				}
				fmt.Fprintln(out, "✓ Routing script loads")
			}

			if printConfig {
				parser, err := config.NewCUEParser()
				if err != nil {
					return err
				}
				data, err := parser.ExportJSON(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			}

			log.Debug().Str("base", base).Msg("Validation finished")
			return nil
		},
	}

	cmd.Flags().BoolVar(&printConfig, "print", false, "print the effective configuration as JSON")
	cmd.Flags().BoolVar(&showSchema, "schema", false, "print the configuration schema and exit")
	cmd.Flags().BoolVar(&showBindings, "bindings", false, "print every bound actor with its roles")
	cmd.Flags().StringVar(&explainActor, "explain", "", "evaluate --capability for this actor")
	cmd.Flags().StringVar(&capability, "capability", "", "capability to evaluate with --explain")
	cmd.Flags().StringVar(&trackType, "track-type", "", "track type scope for --explain (LEGAL, FINANCE)")
	cmd.Flags().StringVar(&tier, "tier", "", "tier scope for --explain (MANAGER, HEAD)")

	return cmd
}

func printBindings(w io.Writer, b *policy.Bindings) {
	actors := b.Actors()
	fmt.Fprintf(w, "Bound actors (%d):\n", len(actors))
	for _, a := range actors {
		fmt.Fprintf(w, "  %s: %s\n", a, strings.Join(b.RolesOf(a), ", "))
	}
}

func explain(cmd *cobra.Command, oracle *policy.Engine, actor string, capability workflow.Capability, scope workflow.Scope) error {
	known := false
	for _, c := range workflow.AllCapabilities() {
		if c == capability {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown capability %q", capability)
	}
	if scope.TrackType != "" {
		if err := scope.TrackType.Validate(); err != nil {
			return err
		}
	}
	switch scope.ActorRole {
	case "", workflow.RoleManager, workflow.RoleHead:
	default:
		return fmt.Errorf("unknown tier %q", scope.ActorRole)
	}

	d, err := oracle.Explain(cmd.Context(), actor, capability, scope)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, d)
	}
	verdict := "✗ denied"
	if d.Allowed {
		verdict = "✓ allowed"
	}
	fmt.Fprintf(out, "%s: %s %s", verdict, d.Actor, d.Capability)
	if scope.TrackType != "" {
		fmt.Fprintf(out, " track=%s", scope.TrackType)
	}
	if scope.ActorRole != "" {
		fmt.Fprintf(out, " tier=%s", scope.ActorRole)
	}
	fmt.Fprintln(out)
	return nil
}
