package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cyberguard/soar-engine/internal/model"
	"github.com/cyberguard/soar-engine/internal/validate"
)

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <playbook.yaml>",
		Short: "Statically validate a playbook's step graph",
		Long:  `Reads a playbook definition and runs the spec's fail-closed static checks against its step graph. Any issue found is fatal and exits non-zero.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args[0])
		},
	}
	return cmd
}

func runValidate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read playbook: %w", err)
	}

	var pb model.Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return fmt.Errorf("parse playbook: %w", err)
	}

	result := validate.Validate(&pb)
	if result.Valid() {
		fmt.Printf("%s: valid (%d steps)\n", pb.ID, len(pb.Steps))
		return nil
	}

	for _, issue := range result.Issues {
		fmt.Fprintln(os.Stderr, issue.String())
	}
	return fmt.Errorf("%s: %d issue(s) found", pb.ID, len(result.Issues))
}
