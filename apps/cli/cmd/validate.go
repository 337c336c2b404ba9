package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/stagespec/packages/core/runner"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file|directory>...",
	Short: "Check scenarios without running them",
	Long: `Resolve the $ref references of each scenario and decode its stages
without sending any request.

Examples:
  stagespec validate users.scenario.yaml
  stagespec validate ./scenarios/`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateCommand,
}

func validateCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	files, err := collectFiles(args)
	if err != nil {
		return usageError("%v", err)
	}
	if len(files) == 0 {
		return usageError("no scenario files found")
	}

	r := runner.NewRunner(runnerConfig(cfg, nil, logger))

	hasErrors := false
	for _, file := range files {
		sc, err := r.LoadFile(file)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", file, err)
			hasErrors = true
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Valid: %s (%s, %d stages)\n", file, sc.Name, len(sc.Stages))
	}

	if hasErrors {
		return &ExitError{Code: ExitParseError, Err: fmt.Errorf("validation failed")}
	}
	return nil
}
