package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ankaios-go/ankaios/pkg/desiredstate"
	"github.com/ankaios-go/ankaios/pkg/proto"
	"github.com/ankaios-go/ankaios/pkg/workload"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Read state from the server",
}

// getStateCmd is deliberately minimal: CLI UX and table rendering are
// out-of-scope external collaborators (§1), so this prints the decoded
// snapshot as indented JSON rather than a formatted report.
var getStateCmd = &cobra.Command{
	Use:   "state [NAME...]",
	Short: "Print the desired and execution state of one or more workloads as JSON",
	RunE:  runGetState,
}

func init() {
	getCmd.AddCommand(getStateCmd)
}

// stateProjection is the raw JSON shape printed by "get state": the
// desired spec for each named workload alongside the execution state
// every agent has reported for it.
type stateProjection struct {
	Workloads map[string]workload.Spec                      `json:"workloads"`
	States    map[string]map[string]workload.ExecutionState `json:"executionStates"`
}

func runGetState(cmd *cobra.Command, args []string) error {
	sess, err := dial(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	var mask []string
	for _, name := range args {
		mask = append(mask, "desiredState.workloads."+name)
	}

	reqID := newRequestID()
	resp, err := roundTrip(sess, proto.ToServer{
		CompleteStateRequest: &proto.CompleteStateRequest{RequestID: reqID, FieldMask: mask},
	}, func(m proto.FromServer) bool {
		return m.CompleteStateResponse != nil && m.CompleteStateResponse.RequestID == reqID
	})
	if err != nil {
		return err
	}

	state, states, err := desiredstate.DecodeSnapshot(resp.CompleteStateResponse.Payload)
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stateProjection{Workloads: state.Workloads, States: states})
}
