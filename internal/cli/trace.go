package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	PhaseID  string // optional - show one phase in detail
	Target   string // optional - history of one snapshot key
	Outcome  string // optional - only phases with this outcome
}

// PhaseNode is a journaled phase with the phases nested inside it.
type PhaseNode struct {
	ir.PhaseRecord
	Children []PhaseNode `json:"children,omitempty"`
}

// PhaseDetail is everything journaled for one phase.
type PhaseDetail struct {
	Phase        ir.PhaseRecord         `json:"phase"`
	Causes       []string               `json:"causes"`
	Transactions []ir.TransactionRecord `json:"transactions"`
	Events       []ir.EventRecord       `json:"events"`
	Children     []ir.PhaseRecord       `json:"children"`
}

// TraceResult holds the trace output. Exactly one field is set.
type TraceResult struct {
	Tree    []PhaseNode            `json:"tree,omitempty"`
	Phases  []ir.PhaseRecord       `json:"phases,omitempty"`
	Detail  *PhaseDetail           `json:"detail,omitempty"`
	History []ir.TransactionRecord `json:"history,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect journaled phases",
		Long: `Inspect the phases recorded in a journal.

Without filters, prints the phase tree: top-level phases in the order
they began, with nested phases indented below them.

The output can be narrowed:
- --phase: one phase with its cause, transactions and events
- --target: every transaction that touched a snapshot key
- --outcome: every phase, nested or not, that ended with an outcome

Examples:
  causeway trace --db ./world.db
  causeway trace --db ./world.db --phase 0192f3c4-...
  causeway trace --db ./world.db --target block:0,64,0
  causeway trace --db ./world.db --outcome cancelled --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", envOr("CAUSEWAY_DB", ""), "path to the SQLite journal (required)")
	cmd.Flags().StringVar(&opts.PhaseID, "phase", "", "show one phase in detail")
	cmd.Flags().StringVar(&opts.Target, "target", "", "show the history of a snapshot key")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "list phases with this outcome")
	cmd.MarkFlagsMutuallyExclusive("phase", "target", "outcome")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Database == "" {
		return NewExitError(ExitCommandError, "--db is required")
	}
	if opts.Outcome != "" && !validOutcome(opts.Outcome) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown outcome %q", opts.Outcome))
	}

	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	var result TraceResult
	switch {
	case opts.PhaseID != "":
		detail, err := readDetail(ctx, j, opts.PhaseID)
		if errors.Is(err, sql.ErrNoRows) {
			return formatter.Fail(ExitCommandError, "E_NOT_FOUND", fmt.Sprintf("phase not found: %s", opts.PhaseID), nil)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read phase", err)
		}
		result.Detail = detail
	case opts.Target != "":
		if result.History, err = j.ReadHistory(ctx, opts.Target); err != nil {
			return WrapExitError(ExitCommandError, "failed to read history", err)
		}
	case opts.Outcome != "":
		if result.Phases, err = j.ListByOutcome(ctx, ir.Outcome(opts.Outcome)); err != nil {
			return WrapExitError(ExitCommandError, "failed to list phases", err)
		}
	default:
		if result.Tree, err = readTree(ctx, j); err != nil {
			return WrapExitError(ExitCommandError, "failed to read phase tree", err)
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	switch {
	case result.Detail != nil:
		printDetail(w, result.Detail, opts.Verbose)
	case opts.Target != "":
		printHistory(w, opts.Target, result.History)
	case opts.Outcome != "":
		if len(result.Phases) == 0 {
			fmt.Fprintf(w, "No %s phases\n", opts.Outcome)
		}
		for _, p := range result.Phases {
			printPhaseLine(w, p, 0)
		}
	default:
		if len(result.Tree) == 0 {
			fmt.Fprintln(w, "Journal is empty")
		}
		for _, n := range result.Tree {
			printNode(w, n, 0)
		}
	}
	return nil
}

func validOutcome(s string) bool {
	switch ir.Outcome(s) {
	case ir.OutcomeCommitted, ir.OutcomeCancelled, ir.OutcomeRolledBackPartial, ir.OutcomeEmpty:
		return true
	}
	return false
}

// readTree loads every top-level phase and, recursively, its children.
func readTree(ctx context.Context, j *journal.Journal) ([]PhaseNode, error) {
	roots, err := j.ListPhases(ctx)
	if err != nil {
		return nil, err
	}
	return expand(ctx, j, roots)
}

func expand(ctx context.Context, j *journal.Journal, phases []ir.PhaseRecord) ([]PhaseNode, error) {
	nodes := make([]PhaseNode, 0, len(phases))
	for _, p := range phases {
		kids, err := j.ReadChildren(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		children, err := expand(ctx, j, kids)
		if err != nil {
			return nil, err
		}
		node := PhaseNode{PhaseRecord: p}
		if len(children) > 0 {
			node.Children = children
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func readDetail(ctx context.Context, j *journal.Journal, id string) (*PhaseDetail, error) {
	p, err := j.ReadPhase(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &PhaseDetail{Phase: p, Causes: []string{}}

	causes, err := j.ReadCauses(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, c := range causes {
		d.Causes = append(d.Causes, c.Value)
	}
	if d.Transactions, err = j.ReadTransactions(ctx, id); err != nil {
		return nil, err
	}
	if d.Events, err = j.ReadEvents(ctx, id); err != nil {
		return nil, err
	}
	if d.Children, err = j.ReadChildren(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

func printNode(w io.Writer, n PhaseNode, depth int) {
	printPhaseLine(w, n.PhaseRecord, depth)
	for _, c := range n.Children {
		printNode(w, c, depth+1)
	}
}

func printPhaseLine(w io.Writer, p ir.PhaseRecord, indent int) {
	fmt.Fprintf(w, "%s[%d-%d] %s %s %s (%d tx, %d events)\n",
		strings.Repeat("  ", indent), p.BeganSeq, p.EndedSeq, p.Name, p.ID, p.Outcome, p.TxCount, p.Events)
}

func printDetail(w io.Writer, d *PhaseDetail, verbose bool) {
	p := d.Phase
	fmt.Fprintf(w, "Phase %s (%s, %s)\n", p.ID, p.Name, p.Kind)
	fmt.Fprintf(w, "Outcome: %s  seq %d-%d  depth %d\n", p.Outcome, p.BeganSeq, p.EndedSeq, p.Depth)
	if p.ParentID != "" {
		fmt.Fprintf(w, "Parent: %s\n", p.ParentID)
	}
	if p.Failures > 0 {
		fmt.Fprintf(w, "Restore failures: %d\n", p.Failures)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Cause ===")
	if len(d.Causes) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, c := range d.Causes {
		fmt.Fprintf(w, "  %s\n", c)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Transactions ===")
	if len(d.Transactions) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, tx := range d.Transactions {
		line := fmt.Sprintf("  [%d] %s %s", tx.Seq, tx.Kind, tx.Target)
		if tx.Restored {
			line += " (restored)"
		}
		fmt.Fprintln(w, line)
		if verbose {
			fmt.Fprintf(w, "       original:  %s\n", canonical(tx.Original))
			if tx.Resulting != nil {
				fmt.Fprintf(w, "       resulting: %s\n", canonical(tx.Resulting))
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Events ===")
	if len(d.Events) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, e := range d.Events {
		line := fmt.Sprintf("  [%d] %s", e.Seq, e.Type)
		if e.Cancelled {
			line += " (cancelled)"
		}
		fmt.Fprintln(w, line)
		if verbose {
			fmt.Fprintf(w, "       %s\n", canonical(e.Payload))
		}
	}

	if len(d.Children) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Nested ===")
		for _, c := range d.Children {
			printPhaseLine(w, c, 1)
		}
	}
}

func printHistory(w io.Writer, target string, txs []ir.TransactionRecord) {
	if len(txs) == 0 {
		fmt.Fprintf(w, "No transactions touched %s\n", target)
		return
	}
	fmt.Fprintf(w, "History of %s\n", target)
	for _, tx := range txs {
		line := fmt.Sprintf("  %s [%d] %s", tx.PhaseID, tx.Seq, tx.Kind)
		if tx.Restored {
			line += " (restored)"
		}
		fmt.Fprintln(w, line)
	}
}

// canonical renders a payload as compact JSON with sorted keys.
func canonical(obj ir.IRObject) string {
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}
