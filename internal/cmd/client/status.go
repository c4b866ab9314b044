package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nnikolov3/audiopipe/internal/correlate"
)

// NewStatusCommand constructs the `status` command. With an argument it
// reports one workflow; without, it lists recent workflows.
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [workflow-id]",
		Short: "Show workflow progress",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			rt, _, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if len(args) == 1 {
				st, err := rt.Tracker().Status(args[0], rt.StalledAfter())
				if errors.Is(err, correlate.ErrUnknownWorkflow) {
					return fmt.Errorf("unknown workflow %s", args[0])
				}
				if err != nil {
					return err
				}
				return enc.Encode(statusView(st))
			}
			sts, err := rt.Tracker().List(rt.StalledAfter(), limit)
			if err != nil {
				return err
			}
			views := make([]statusJSON, 0, len(sts))
			for _, st := range sts {
				views = append(views, statusView(st))
			}
			return enc.Encode(views)
		},
	}
	addStoreFlags(cmd)
	cmd.Flags().Int("limit", 50, "Maximum workflows to list")
	return cmd
}

type statusJSON struct {
	WorkflowID  string                   `json:"workflow_id"`
	UserID      string                   `json:"user_id,omitempty"`
	TenantID    string                   `json:"tenant_id,omitempty"`
	TotalPages  int                      `json:"total_pages"`
	Completed   bool                     `json:"completed"`
	Stalled     bool                     `json:"stalled,omitempty"`
	ManifestKey string                   `json:"manifest_key,omitempty"`
	CreatedAtMs int64                    `json:"created_at_ms"`
	UpdatedAtMs int64                    `json:"updated_at_ms"`
	Stages      map[string]stageProgJSON `json:"stages"`
}

type stageProgJSON struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

func statusView(st correlate.Status) statusJSON {
	v := statusJSON{
		WorkflowID:  st.WorkflowID,
		UserID:      st.UserID,
		TenantID:    st.TenantID,
		TotalPages:  st.TotalPages,
		Completed:   st.Completed(),
		Stalled:     st.Stalled,
		ManifestKey: st.ManifestKey,
		CreatedAtMs: st.CreatedAtMs,
		UpdatedAtMs: st.UpdatedAtMs,
		Stages:      make(map[string]stageProgJSON, len(st.Stages)),
	}
	for name, p := range st.Stages {
		v.Stages[name] = stageProgJSON{Done: p.Done, Total: p.Total}
	}
	return v
}
