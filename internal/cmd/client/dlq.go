package client

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/nnikolov3/audiopipe/internal/event"
)

// NewDLQCommand constructs the `dlq` command: it lists dead-lettered
// deliveries for a subject/group pair.
func NewDLQCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List dead-lettered deliveries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			group, _ := cmd.Flags().GetString("group")
			from, _ := cmd.Flags().GetUint64("from")
			limit, _ := cmd.Flags().GetInt("limit")

			rt, _, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			entries, err := rt.Bus().ReadDLQ(subject, group, from, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				view := map[string]any{
					"seq":      e.Seq,
					"subject":  e.Subject,
					"group":    e.Group,
					"orig_seq": e.OrigSeq,
					"attempts": e.Attempts,
					"error":    e.Error,
					"ts_ms":    e.TsMs,
				}
				if h, ev, err := event.Decode(e.Payload); err == nil {
					view["header"] = h
					view["type"] = ev.EventType()
					view["event"] = ev
				} else {
					view["raw"] = string(e.Payload)
				}
				if err := enc.Encode(view); err != nil {
					return err
				}
			}
			return nil
		},
	}
	addStoreFlags(cmd)
	cmd.Flags().String("subject", event.SubjectDocumentsCreated, "Original subject")
	cmd.Flags().String("group", "render", "Consumer group")
	cmd.Flags().Uint64("from", 0, "Start sequence in the DLQ log")
	cmd.Flags().Int("limit", 100, "Maximum entries")
	return cmd
}
