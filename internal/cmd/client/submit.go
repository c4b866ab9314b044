package client

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nnikolov3/audiopipe/internal/event"
	"github.com/nnikolov3/audiopipe/internal/runtime"
	"github.com/nnikolov3/audiopipe/internal/stages"
)

// NewSubmitCommand constructs the `submit` command: it stores the source
// document, announces it on the bus, and optionally runs the pipeline
// in-process until the workflow completes.
func NewSubmitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <file.pdf>",
		Short: "Submit a document for conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			tenant, _ := cmd.Flags().GetString("tenant")
			mediaType, _ := cmd.Flags().GetString("media-type")
			wait, _ := cmd.Flags().GetBool("wait")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rt, _, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			workflowID := uuid.NewString()
			sourceKey := rt.Keys().NextKey("source")
			// write-then-announce: the blob must be durable before the event
			if err := rt.Store().Put(ctx, stages.BucketSources, sourceKey, source); err != nil {
				return err
			}
			h := event.Header{
				EventID:     uuid.NewString(),
				WorkflowID:  workflowID,
				UserID:      user,
				TenantID:    tenant,
				CreatedAtMs: time.Now().UnixMilli(),
			}
			payload, err := event.Encode(h, event.SourceCreated{
				SourceBucket: stages.BucketSources,
				SourceKey:    sourceKey,
				MediaType:    mediaType,
			})
			if err != nil {
				return err
			}
			if _, err := rt.Bus().Publish(ctx, event.SubjectDocumentsCreated, payload); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "workflow:", workflowID)
			if !wait {
				return nil
			}
			return runUntilComplete(ctx, cmd, rt, workflowID, timeout)
		},
	}
	addStoreFlags(cmd)
	cmd.Flags().String("user", "local", "Submitting user id")
	cmd.Flags().String("tenant", "default", "Tenant id")
	cmd.Flags().String("media-type", "application/pdf", "Source media type")
	cmd.Flags().Bool("wait", false, "Run the pipeline in-process until the workflow completes")
	cmd.Flags().Duration("timeout", 10*time.Minute, "Give up waiting after this long")
	return cmd
}

// runUntilComplete hosts the workers and polls the tracker until the
// workflow finishes or the timeout elapses.
func runUntilComplete(ctx context.Context, cmd *cobra.Command, rt *runtime.Runtime, workflowID string, timeout time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- rt.Run(wctx) }()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-runErr:
			if err != nil {
				return err
			}
			return fmt.Errorf("pipeline stopped before workflow %s completed", workflowID)
		case <-wctx.Done():
			return fmt.Errorf("timed out waiting for workflow %s", workflowID)
		case <-ticker.C:
			st, err := rt.Tracker().Status(workflowID, 0)
			if err != nil {
				continue
			}
			if st.Completed() {
				cancel()
				<-runErr
				fmt.Fprintln(cmd.OutOrStdout(), "manifest:", st.ManifestKey)
				return nil
			}
		}
	}
}
