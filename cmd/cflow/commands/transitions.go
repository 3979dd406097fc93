package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/contractflow/contractflow/pkg/workflow"
)

// transition describes one engine command exposed on the command line.
type transition struct {
	use     string
	short   string
	example string

	// flag, when set, is a required string flag passed as the command text.
	flag      string
	flagUsage string

	run func(ctx context.Context, e *workflow.Engine, id, text string, opts []workflow.CallOption) (*workflow.ContractView, error)
}

func newTransitionCommands() []*cobra.Command {
	transitions := []transition{
		{
			use:       "submit <contract-id>",
			short:     "Send a contract to legal or finance review",
			example:   "  cflow submit --actor alice --track LEGAL 7f0c...",
			flag:      "track",
			flagUsage: "track to open (LEGAL or FINANCE)",
			run: func(ctx context.Context, e *workflow.Engine, id, track string, opts []workflow.CallOption) (*workflow.ContractView, error) {
				return e.Submit(ctx, actorID, id, workflow.TrackType(track), opts...)
			},
		},
		{
			use:   "start-review <track-id>",
			short: "Record that a reviewer opened a pending track",
			run: func(ctx context.Context, e *workflow.Engine, id, _ string, opts []workflow.CallOption) (*workflow.ContractView, error) {
				return e.StartReview(ctx, actorID, id, opts...)
			},
		},
		{
			use:       "approve <track-id>",
			short:     "Approve an open track",
			example:   `  cflow approve --actor lena --comment "Liability cap acceptable" 91be...`,
			flag:      "comment",
			flagUsage: "approval comment",
			run: func(ctx context.Context, e *workflow.Engine, id, comment string, opts []workflow.CallOption) (*workflow.ContractView, error) {
				return e.Approve(ctx, actorID, id, comment, opts...)
			},
		},
		{
			use:       "reject <track-id>",
			short:     "Reject an open track and send the contract back for revision",
			flag:      "comment",
			flagUsage: "reason for the rejection",
			run: func(ctx context.Context, e *workflow.Engine, id, comment string, opts []workflow.CallOption) (*workflow.ContractView, error) {
				return e.Reject(ctx, actorID, id, comment, opts...)
			},
		},
		{
			use:       "request-revision <track-id>",
			short:     "Ask the contract manager for changes",
			flag:      "comment",
			flagUsage: "requested changes",
			run: func(ctx context.Context, e *workflow.Engine, id, comment string, opts []workflow.CallOption) (*workflow.ContractView, error) {
				return e.RequestRevision(ctx, actorID, id, comment, opts...)
			},
		},
		{
			use:   "escalate <track-id>",
			short: "Hand a legal track to the legal head",
			run: func(ctx context.Context, e *workflow.Engine, id, _ string, opts []workflow.CallOption) (*workflow.ContractView, error) {
				return e.Escalate(ctx, actorID, id, opts...)
			},
		},
		{
			use:   "send <contract-id>",
			short: "Send an approved contract to the counterparty",
			run: func(ctx context.Context, e *workflow.Engine, id, _ string, opts []workflow.CallOption) (*workflow.ContractView, error) {
				return e.Send(ctx, actorID, id, opts...)
			},
		},
		{
			use:       "upload-signed <contract-id>",
			short:     "Record the countersigned copy and execute the contract",
			flag:      "ref",
			flagUsage: "reference to the signed document",
			run: func(ctx context.Context, e *workflow.Engine, id, ref string, opts []workflow.CallOption) (*workflow.ContractView, error) {
				return e.UploadSigned(ctx, actorID, id, ref, opts...)
			},
		},
		{
			use:       "cancel <contract-id>",
			short:     "Cancel a contract that has not been approved yet",
			flag:      "reason",
			flagUsage: "cancellation reason",
			run: func(ctx context.Context, e *workflow.Engine, id, reason string, opts []workflow.CallOption) (*workflow.ContractView, error) {
				return e.Cancel(ctx, actorID, id, reason, opts...)
			},
		},
	}

	cmds := make([]*cobra.Command, 0, len(transitions))
	for _, t := range transitions {
		cmds = append(cmds, newTransitionCommand(t))
	}
	return cmds
}

func newTransitionCommand(t transition) *cobra.Command {
	var (
		text    string
		version int64
	)

	cmd := &cobra.Command{
		Use:     t.use,
		Short:   t.short,
		Example: t.example,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []workflow.CallOption
			if version > 0 {
				opts = append(opts, workflow.AtVersion(version))
			}
			return withApp(cmd.Context(), func(a *app) error {
				v, err := t.run(cmd.Context(), a.engine, args[0], text, opts)
				if err != nil {
					return err
				}
				log.Info().
					Str("contract_id", v.Contract.ID).
					Str("status", string(v.Contract.Status)).
					Int64("version", v.Contract.Version).
					Msg("Contract updated")
				return printView(cmd.OutOrStdout(), v)
			})
		},
	}

	if t.flag != "" {
		cmd.Flags().StringVar(&text, t.flag, "", t.flagUsage)
		cmd.MarkFlagRequired(t.flag)
	}
	cmd.Flags().Int64Var(&version, "expect-version", 0, "fail unless the contract is still at this version")

	return cmd
}
