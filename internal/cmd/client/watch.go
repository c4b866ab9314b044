package client

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/nnikolov3/audiopipe/internal/bus"
	"github.com/nnikolov3/audiopipe/internal/event"
)

// NewWatchCommand constructs the `watch` command: an observer tail over one
// subject with an optional CEL filter. No group, no acks, no cursor.
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail a subject's events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			from, _ := cmd.Flags().GetUint64("from")
			filter, _ := cmd.Flags().GetString("filter")
			follow, _ := cmd.Flags().GetBool("follow")

			rt, _, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			return rt.Bus().Tail(cmd.Context(), subject, bus.TailOptions{
				StartSeq: from,
				Filter:   filter,
				Follow:   follow,
			}, func(d bus.Delivery) error {
				view := map[string]any{
					"subject": d.Subject,
					"seq":     d.Seq,
					"ts_ms":   d.TsMs,
				}
				if h, ev, err := event.Decode(d.Payload); err == nil {
					view["header"] = h
					view["type"] = ev.EventType()
					view["event"] = ev
				} else {
					view["raw"] = string(d.Payload)
				}
				return enc.Encode(view)
			})
		},
	}
	addStoreFlags(cmd)
	cmd.Flags().String("subject", event.SubjectWorkflowsCompleted, "Subject to tail")
	cmd.Flags().Uint64("from", 0, "Start sequence (0 = beginning)")
	cmd.Flags().String("filter", "", "CEL filter over sequence/ts_ms/size/text/json")
	cmd.Flags().Bool("follow", false, "Keep waiting for new events")
	return cmd
}
