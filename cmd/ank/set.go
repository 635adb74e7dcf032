package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ankaios-go/ankaios/pkg/desiredstate"
	"github.com/ankaios-go/ankaios/pkg/proto"
	"github.com/ankaios-go/ankaios/pkg/workload"
)

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Write state to the server",
}

// setStateCmd replaces the desired state of the named workloads
// wholesale. Manifest parsing (apiVersion/kind envelopes, templating)
// is explicit "manifest-apply glue" and out of scope (§1); the input
// is the raw JSON of a stateDocument, matching what "get state" prints.
var setStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Create, replace, or delete workloads from a raw JSON document",
	RunE:  runSetState,
}

func init() {
	setStateCmd.Flags().StringP("file", "f", "", "Path to a JSON document (default: stdin)")
	setCmd.AddCommand(setStateCmd)
}

// stateDocument is the input shape "set state" reads: workloads to
// create or replace, plus names to delete. A workload named in both
// is rejected rather than silently favoring one.
type stateDocument struct {
	Workloads map[string]workload.Spec `json:"workloads"`
	Delete    []string                 `json:"delete"`
}

func runSetState(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	doc, err := readStateDocument(path)
	if err != nil {
		return err
	}

	newState := desiredstate.Empty()
	mask := make([]string, 0, len(doc.Workloads)+len(doc.Delete))
	for name, spec := range doc.Workloads {
		spec.Name = name
		newState.Workloads[name] = spec
		mask = append(mask, "desiredState.workloads."+name)
	}
	for _, name := range doc.Delete {
		if _, dup := doc.Workloads[name]; dup {
			return fmt.Errorf("workload %q listed in both workloads and delete", name)
		}
		mask = append(mask, "desiredState.workloads."+name)
	}

	return sendUpdate(cmd, newState, mask)
}

func readStateDocument(path string) (stateDocument, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return stateDocument{}, err
		}
		defer f.Close()
		r = f
	}

	var doc stateDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return stateDocument{}, fmt.Errorf("decode state document: %w", err)
	}
	return doc, nil
}

// sendUpdate round-trips an UpdateStateRequest built from newState and
// mask, printing the server's UpdateStateSuccess as JSON.
func sendUpdate(cmd *cobra.Command, newState desiredstate.State, mask []string) error {
	sess, err := dial(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	reqID := newRequestID()
	resp, err := roundTrip(sess, proto.ToServer{
		UpdateStateRequest: &proto.UpdateStateRequest{
			RequestID:    reqID,
			DesiredState: desiredstate.EncodeState(newState),
			UpdateMask:   mask,
		},
	}, func(m proto.FromServer) bool {
		return m.UpdateStateResult != nil && m.UpdateStateResult.RequestID == reqID
	})
	if err != nil {
		return err
	}

	result := resp.UpdateStateResult
	if result.Error != "" {
		return fmt.Errorf("server rejected update: %s", result.Error)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
