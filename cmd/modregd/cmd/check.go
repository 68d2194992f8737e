package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var errCheckFailed = errors.New("check failed")

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and print the activation order",
		Long: `Register the feature modules and apply configuration without
initializing anything. Prints the activation order and every validation
finding; exits non-zero when any module would not reach Configured.`,
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	rt, err := bootstrap(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	problems := 0

	order, err := rt.registry.Order()
	if err != nil {
		problems++
		fmt.Fprintf(out, "order: %v\n", err)
	} else {
		fmt.Fprintf(out, "order: %s\n", strings.Join(order, " -> "))
	}

	for _, info := range rt.registry.List() {
		key := info.Manifest.Key
		fmt.Fprintf(out, "%-12s %-12s v%s\n", key, info.State, info.Manifest.Version)
		for _, e := range info.LastValidation.Errors {
			fmt.Fprintf(out, "  error    %s\n", e)
		}
		for _, w := range info.LastValidation.Warnings {
			fmt.Fprintf(out, "  warning  %s: %s\n", w.Code, w.Message)
		}
		if applyErr, ok := rt.applied.Errors[key]; ok {
			problems++
			if len(info.LastValidation.Errors) == 0 {
				fmt.Fprintf(out, "  error    %v\n", applyErr)
			}
		}
	}
	for _, o := range rt.applied.Overrides {
		fmt.Fprintf(out, "env %s -> %s.%s\n", o.EnvVar, o.Module, o.Field)
	}

	if problems > 0 {
		return fmt.Errorf("%w: %d problem(s)", errCheckFailed, problems)
	}
	fmt.Fprintln(out, "ok")
	return nil
}
