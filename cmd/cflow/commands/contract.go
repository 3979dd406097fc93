package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/contractflow/contractflow/pkg/workflow"
)

func newContractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Create and inspect contracts",
	}

	cmd.AddCommand(newContractCreateCommand())
	cmd.AddCommand(newContractShowCommand())
	cmd.AddCommand(newContractListCommand())
	cmd.AddCommand(newContractActionsCommand())
	cmd.AddCommand(newContractAuditCommand())

	return cmd
}

func newContractCreateCommand() *cobra.Command {
	var (
		in     workflow.CreateInput
		tracks []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft contract",
		Long: `Create a new contract in DRAFT status.

The required review tracks come from --tracks, else from the routing script,
else from workflow.default_required_tracks.`,
		Example: `  # Create a contract needing both reviews
  cflow contract create --actor alice --title "MSA Acme" \
    --counterparty "Acme GmbH" --email legal@acme.test --amount 1200000 --currency EUR

  # Legal review only
  cflow contract create --actor alice --title "NDA" --counterparty "Acme" --tracks LEGAL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range tracks {
				tt, err := workflow.ParseTrackType(t)
				if err != nil {
					return err
				}
				in.RequiredTracks = append(in.RequiredTracks, tt)
			}

			return withApp(cmd.Context(), func(a *app) error {
				v, err := a.engine.Create(cmd.Context(), actorID, in)
				if err != nil {
					return err
				}
				log.Info().Str("contract_id", v.Contract.ID).Msg("Contract created")
				return printView(cmd.OutOrStdout(), v)
			})
		},
	}

	cmd.Flags().StringVar(&in.Title, "title", "", "contract title")
	cmd.Flags().StringVar(&in.CounterpartyName, "counterparty", "", "counterparty name")
	cmd.Flags().StringVar(&in.CounterpartyEmail, "email", "", "counterparty email")
	cmd.Flags().Int64Var(&in.Amount, "amount", 0, "contract value in minor units")
	cmd.Flags().StringVar(&in.Currency, "currency", "", "ISO 4217 currency code")
	cmd.Flags().StringSliceVar(&tracks, "tracks", nil, "required review tracks (LEGAL, FINANCE)")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("counterparty")

	return cmd
}

func newContractShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <contract-id>",
		Short: "Show a contract and all of its tracks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				v, err := a.engine.GetContract(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printView(cmd.OutOrStdout(), v)
			})
		},
	}
}

func newContractListCommand() *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts, newest first",
		Example: `  cflow contract list
  cflow contract list --status APPROVED`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *workflow.ContractStatus
			if status != "" {
				s := workflow.ContractStatus(status)
				filter = &s
			}
			return withApp(cmd.Context(), func(a *app) error {
				contracts, err := a.engine.ListContracts(cmd.Context(), filter, limit, offset)
				if err != nil {
					return err
				}
				return printContracts(cmd.OutOrStdout(), contracts)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only contracts in this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of contracts")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of contracts to skip")

	return cmd
}

func newContractActionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "actions <contract-id>",
		Short: "List the commands --actor may run on a contract now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				actions, err := a.engine.AvailableActions(cmd.Context(), actorID, args[0])
				if err != nil {
					return err
				}
				return printActions(cmd.OutOrStdout(), actions)
			})
		},
	}
}

func newContractAuditCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "audit <contract-id>",
		Short: "Show the audit trail of a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				entries, err := a.engine.AuditTrail(cmd.Context(), args[0], limit, offset)
				if err != nil {
					return err
				}
				if len(entries) == 0 && !jsonOutput {
					fmt.Fprintln(cmd.OutOrStdout(), "No audit entries.")
					return nil
				}
				return printAudit(cmd.OutOrStdout(), entries)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of entries to skip")

	return cmd
}
