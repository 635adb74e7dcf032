package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ankaios-go/ankaios/pkg/desiredstate"
	"github.com/ankaios-go/ankaios/pkg/workload"
)

// applyCmd is a one-workload convenience over "set state": it reads
// the raw JSON of a single workload.Spec, not a YAML manifest with an
// apiVersion/kind envelope (manifest parsing is out of scope, §1), and
// create-or-replaces just that one workload.
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or replace a single workload from a raw JSON spec",
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "Path to a JSON workload.Spec document (default: stdin)")
}

func runApply(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")

	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	var spec workload.Spec
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return fmt.Errorf("decode workload spec: %w", err)
	}
	if spec.Name == "" {
		return fmt.Errorf("workload spec is missing a name")
	}

	newState := desiredstate.Empty()
	newState.Workloads[spec.Name] = spec
	mask := []string{"desiredState.workloads." + spec.Name}

	return sendUpdate(cmd, newState, mask)
}
