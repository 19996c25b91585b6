package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"videojobs/internal/bootstrap"
	"videojobs/internal/status"
	"videojobs/internal/trigger"
	"videojobs/internal/workflow"
)

func newCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create <filename>",
		Short: "Create a PENDING job and print its upload credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withResources(cmd.Context(), func(res *bootstrap.Resources) error {
				out, err := res.Coordinator().CreateJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, out)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Job: %s\n", out.JobID)
				fmt.Fprintf(w, "Object key: %s\n", out.ObjectKey)
				fmt.Fprintf(w, "Upload: %s %s\n", out.Credential.Method, out.Credential.URL)
				fmt.Fprintf(w, "Expires: %s\n", out.Credential.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
}

func newGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job_id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withResources(cmd.Context(), func(res *bootstrap.Resources) error {
				view, err := status.NewReader(res.Store).GetStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, view)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Job: %s\n", view.JobID)
				fmt.Fprintf(w, "File: %s\n", view.Filename)
				fmt.Fprintf(w, "Status: %s (%d%%)\n", view.Status, view.ProgressPercent)
				fmt.Fprintf(w, "Updated: %s\n", view.UpdatedAt.Format(time.RFC3339))
				if view.Error != nil {
					fmt.Fprintf(w, "Error: [%s] step=%s %s\n", view.Error.Code, view.Error.Step, view.Error.Message)
				}
				return nil
			})
		},
	}
}

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	var bucket string
	var size int64
	cmd := &cobra.Command{
		Use:   "notify <object_key>",
		Short: "Publish an object-created notification to the trigger queue",
		Long: "Publish an S3-shaped ObjectCreated:Put notification for object_key. " +
			"Useful to replay a lost notification; duplicates are harmless.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withResources(cmd.Context(), func(res *bootstrap.Resources) error {
				target := bucket
				if target == "" {
					target = res.Config.BucketName()
				}
				body, err := trigger.EncodeS3Event(target, args[0], size, time.Now())
				if err != nil {
					return err
				}
				if err := res.Queue.Publish(cmd.Context(), body); err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"published": true, "bucket": target, "object_key": args[0]})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published ObjectCreated:Put for %s/%s\n", target, args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "Bucket name (defaults to the configured bucket)")
	cmd.Flags().Int64Var(&size, "size", 0, "Object size in bytes")
	return cmd
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var stall time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail PROCESSING jobs whose worker stopped heartbeating",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withResources(cmd.Context(), func(res *bootstrap.Resources) error {
				timeout := stall
				if timeout <= 0 {
					timeout = res.Config.StallTimeout
				}
				if timeout <= 0 {
					return fmt.Errorf("stall timeout must be positive")
				}
				sweeper := workflow.NewSweeper(res.Store, timeout, res.Config.SweepInterval, res.Logger)
				n, err := sweeper.SweepOnce(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]int{"failed": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Failed %d stalled job(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&stall, "stall-timeout", 0, "Override STALL_TIMEOUT")
	return cmd
}
