package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/phasetrace/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Source string           `json:"source"`
	Valid  bool             `json:"valid"`
	Config *config.Config   `json:"config,omitempty"`
	Errors []config.Problem `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config.cue]",
		Short: "Validate an experiment config",
		Long: `Validate an experiment config against the built-in schema and print the
effective configuration, defaults and environment overrides included.

Without an argument the --config file is used; with neither, the
defaults are shown.

Exit codes:
  0 - Config valid
  1 - Config invalid
  2 - Command error (file not found)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	source := path
	if path == "" {
		source = "(defaults)"
	}
	f.VerboseLog("Validating %s", source)

	cfg, err := config.Load(path)
	if err != nil {
		var verr *config.ValidationError
		switch {
		case errors.As(err, &verr):
			return outputValidationErrors(f, source, verr.Problems)
		case errors.Is(err, os.ErrNotExist):
			msg := fmt.Sprintf("config file not found: %s", path)
			if opts.Format == "json" {
				_ = f.Error(ErrCodeInput, msg, nil)
			}
			return WrapExitError(ExitCommandError, msg, err)
		default:
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}

	if opts.Format == "json" {
		return f.JSON(ValidationResult{Source: source, Valid: true, Config: cfg}, nil)
	}
	fmt.Fprintf(f.Writer, "✓ %s is valid\n", source)
	fmt.Fprintf(f.Writer, "  year=%d timezone=%s min_data_pkt_size=%d workers=%d log_level=%s\n",
		cfg.Year, cfg.Timezone, cfg.MinDataPktSize, cfg.Workers, cfg.LogLevel)
	fmt.Fprintf(f.Writer, "  datasets=%s output=%s app_log=%s capture=%s database=%q\n",
		cfg.Datasets, cfg.Output, cfg.AppLog, cfg.Capture, cfg.Database)
	return nil
}

func outputValidationErrors(f *OutputFormatter, source string, problems []config.Problem) error {
	msg := fmt.Sprintf("validation failed with %d error(s)", len(problems))

	if f.Format == "json" {
		err := f.JSON(ValidationResult{Source: source, Errors: problems},
			&CLIError{Code: ErrCodeConfig, Message: msg})
		if err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	fmt.Fprintf(f.Writer, "✗ %s\n", source)
	for _, p := range problems {
		switch {
		case p.Line > 0 && p.Path != "":
			fmt.Fprintf(f.Writer, "  line %d: %s: %s\n", p.Line, p.Path, p.Message)
		case p.Path != "":
			fmt.Fprintf(f.Writer, "  %s: %s\n", p.Path, p.Message)
		default:
			fmt.Fprintf(f.Writer, "  %s\n", p.Message)
		}
	}
	return NewExitError(ExitFailure, msg)
}
