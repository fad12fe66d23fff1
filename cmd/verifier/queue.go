package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/romaneios/jobs"
)

// queueCLI wraps manual management helpers for the verification queue.
type queueCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

func newQueueCLI(redisAddr string) (*queueCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required for queue commands")
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &queueCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *queueCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a batch run for "all" or a single verification for a romaneio id.
func (c *queueCLI) Trigger(ctx context.Context, target string) (*asynq.TaskInfo, error) {
	if target == "all" {
		return c.client.EnqueueVerifyAll(ctx, time.Now().UTC())
	}
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("queue: expected \"all\" or a romaneio id, got %q", target)
	}
	return c.client.EnqueueVerifyOne(ctx, jobs.VerifyOnePayload{RomaneioID: id})
}

// queueStats summarises the current queue state.
type queueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the metrics of the default queue.
func (c *queueCLI) InspectQueue(ctx context.Context) (queueStats, error) {
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return queueStats{}, err
	}
	stats := queueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

func enqueueCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <all|romaneio-id>",
		Short: "Queue a verification for the worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error: load config:", err)
				return err
			}
			q, err := newQueueCLI(cfg.RedisAddr)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				return err
			}
			defer q.Close()
			info, err := q.Trigger(cmd.Context(), args[0])
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s as %s on %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
}

func queueCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show verification queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error: load config:", err)
				return err
			}
			q, err := newQueueCLI(cfg.RedisAddr)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				return err
			}
			defer q.Close()
			stats, err := q.InspectQueue(cmd.Context())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			return nil
		},
	}
}
