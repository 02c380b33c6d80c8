package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/causeway/internal/harness"
)

// PhaseInfo describes one registered phase.
type PhaseInfo struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	CancelPolicy string   `json:"cancel_policy"`
	Requires     []string `json:"requires,omitempty"`
	Buttons      []string `json:"buttons,omitempty"`
}

// PhasesResult is the output of the phases command.
type PhasesResult struct {
	Phases []PhaseInfo `json:"phases"`
	Hash   string      `json:"hash"`
}

// NewPhasesCommand creates the phases command.
func NewPhasesCommand(rootOpts *RootOptions) *cobra.Command {
	var catalogDir string

	cmd := &cobra.Command{
		Use:   "phases",
		Short: "List the registered phases",
		Long: `List the built-in phases plus the phases of a CUE catalog.

Click states are listed in selection order: the first one whose buttons
all match a click packet wins.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhases(rootOpts, catalogDir, cmd)
		},
	}

	cmd.Flags().StringVar(&catalogDir, "catalog", envOr("CAUSEWAY_CATALOG_DIR", ""), "CUE phase catalog to add to the built-in phases")

	return cmd
}

func runPhases(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	reg, err := harness.LoadRegistry(dir)
	if err != nil {
		return formatter.Fail(ExitCommandError, "E_CATALOG", err.Error(), nil)
	}
	hash, err := reg.Hash()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to hash catalog", err)
	}

	result := PhasesResult{Hash: hash}
	for _, d := range reg.All() {
		result.Phases = append(result.Phases, PhaseInfo{
			Name:         d.Name(),
			Kind:         string(d.Kind()),
			CancelPolicy: string(d.CancelPolicy()),
			Requires:     d.Requires(),
			Buttons:      d.Buttons().Names(),
		})
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tCANCEL\tREQUIRES\tBUTTONS")
	for _, p := range result.Phases {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.Kind, p.CancelPolicy, dashJoin(p.Requires), dashJoin(p.Buttons))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(formatter.Writer, "\n%d phase(s), catalog hash %s\n", len(result.Phases), result.Hash)
	return nil
}

func dashJoin(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ",")
}
