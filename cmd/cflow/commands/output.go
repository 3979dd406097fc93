package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/contractflow/contractflow/pkg/workflow"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printView(w io.Writer, v *workflow.ContractView) error {
	if jsonOutput {
		return printJSON(w, v)
	}
	c := v.Contract
	fmt.Fprintf(w, "Contract:     %s\n", c.ID)
	fmt.Fprintf(w, "Title:        %s\n", c.Title)
	fmt.Fprintf(w, "Status:       %s\n", c.Status)
	fmt.Fprintf(w, "Version:      %d\n", c.Version)
	fmt.Fprintf(w, "Amount:       %d %s\n", c.Amount, c.Currency)
	fmt.Fprintf(w, "Counterparty: %s <%s>\n", c.CounterpartyName, c.CounterpartyEmail)
	fmt.Fprintf(w, "Requires:     %v\n", c.RequiredTracks)
	if c.SignedAttachment != nil {
		fmt.Fprintf(w, "Signed copy:  %s\n", *c.SignedAttachment)
	}
	if len(v.Tracks) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACK\tTYPE\tSTATUS\tTIER\tDECIDED BY\tCREATED")
	for _, tr := range v.Tracks {
		decidedBy := "-"
		if tr.DecidedBy != nil {
			decidedBy = *tr.DecidedBy
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			tr.ID, tr.Type, tr.Status, tr.ActorRole, decidedBy, tr.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printContracts(w io.Writer, contracts []*workflow.Contract) error {
	if jsonOutput {
		return printJSON(w, contracts)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tVERSION\tTITLE\tUPDATED")
	for _, c := range contracts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", c.ID, c.Status, c.Version, c.Title, c.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printAudit(w io.Writer, entries []*workflow.AuditEntry) error {
	if jsonOutput {
		return printJSON(w, entries)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tWHEN\tACTION\tACTOR\tCOMMENT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.ID, e.CreatedAt.Format(time.RFC3339), e.Action, e.ActorID, e.Comment)
	}
	return tw.Flush()
}

func printActions(w io.Writer, actions []workflow.AvailableAction) error {
	if jsonOutput {
		return printJSON(w, actions)
	}
	if len(actions) == 0 {
		fmt.Fprintln(w, "No actions available.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tTRACK\tTYPE")
	for _, a := range actions {
		track, typ := "-", "-"
		if a.TrackID != "" {
			track = a.TrackID
		}
		if a.TrackType != "" {
			typ = string(a.TrackType)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Operation, track, typ)
	}
	return tw.Flush()
}
