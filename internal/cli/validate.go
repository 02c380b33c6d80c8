package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/causeway/internal/catalog"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Phases int                        `json:"phases"`
	Files  int                        `json:"files"`
	Hash   string                     `json:"hash,omitempty"`
	Errors []catalog.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <catalog-dir>",
		Short: "Validate a CUE phase catalog",
		Long: `Validate the CUE phase catalog in a directory.

Compiles every phase and checks names, kinds, cancel policies, click
buttons and required context keys. All errors are reported, not just
the first. On success the catalog hash is printed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	res, loadErrs := catalog.Load(dir, catalog.CollectAll)

	// Directory not found, no files, CUE that does not build.
	if res == nil {
		var loadErr *catalog.LoadError
		if errors.As(loadErrs[0], &loadErr) {
			return formatter.Fail(ExitCommandError, loadErr.Code, loadErr.Message, nil)
		}
		return formatter.Fail(ExitCommandError, catalog.ErrCodeGeneric, loadErrs[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", res.FileCount, dir)
	for _, s := range res.Specs {
		formatter.VerboseLog("Compiled phase: %s (%s)", s.Name, s.Kind)
	}

	var verrs []catalog.ValidationError
	for _, err := range loadErrs {
		var v catalog.ValidationError
		var loadErr *catalog.LoadError
		switch {
		case errors.As(err, &v):
			verrs = append(verrs, v)
		case errors.As(err, &loadErr):
			verrs = append(verrs, catalog.ValidationError{
				Field:   fieldFromPos(loadErr),
				Message: loadErr.Message,
				Code:    loadErr.Code,
			})
		default:
			verrs = append(verrs, catalog.ValidationError{Message: err.Error(), Code: catalog.ErrCodeGeneric})
		}
	}

	result := ValidationResult{
		Valid:  len(verrs) == 0,
		Phases: len(res.Specs),
		Files:  res.FileCount,
		Hash:   res.Hash,
		Errors: verrs,
	}
	if len(verrs) > 0 {
		return outputValidationErrors(formatter, result)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Catalog valid: %d phase(s) in %d file(s)\n", result.Phases, result.Files)
	fmt.Fprintf(formatter.Writer, "  hash %s\n", result.Hash)
	return nil
}

// fieldFromPos names the source location of a load error, if it has one.
func fieldFromPos(e *catalog.LoadError) string {
	if !e.Pos.IsValid() {
		return "load"
	}
	return fmt.Sprintf("%s:%d", e.Pos.Filename(), e.Pos.Line())
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))

	if formatter.JSON() {
		first := result.Errors[0]
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: first.Code, Message: first.Message},
		}); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range result.Errors {
		where := e.Field
		if e.Phase != "" {
			where = fmt.Sprintf("phase %s: %s", e.Phase, e.Field)
		}
		if where != "" {
			fmt.Fprintln(formatter.Writer, where)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return failure
}
