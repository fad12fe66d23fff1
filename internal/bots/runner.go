package bots

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// ExecutionIDEnv carries the execution id into the bot process.
const ExecutionIDEnv = "RPA_EXECUTION_ID"

// Execution statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Execution records one bot run.
type Execution struct {
	ID        string
	BotID     string
	Status    string
	ExitCode  int
	Output    string
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration returns the wall time of the run.
func (e Execution) Duration() time.Duration { return e.EndedAt.Sub(e.StartedAt) }

// Runner executes registered bots with a timeout.
type Runner struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRunner constructs a runner. A zero timeout falls back to twice the bot's
// estimated duration, or ten minutes when none is set.
func NewRunner(registry *Registry, timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, timeout: timeout, logger: logger}
}

// Run executes the bot and waits for it. A failing process is reported in
// the Execution, not as an error; errors are reserved for unknown bots.
func (r *Runner) Run(ctx context.Context, id string) (Execution, error) {
	bot, err := r.registry.Get(id)
	if err != nil {
		return Execution{}, err
	}
	run := Execution{ID: uuid.NewString(), BotID: bot.ID, StartedAt: time.Now().UTC()}
	logger := r.logger.With(slog.String("bot", bot.ID), slog.String("execution_id", run.ID))
	logger.Info("bot started", slog.String("name", bot.Name))

	timeout := r.timeoutFor(bot)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, bot.Command[0], bot.Command[1:]...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", ExecutionIDEnv, run.ID))
	cmd.Stdout = &output
	cmd.Stderr = &output
	runErr := cmd.Run()

	run.EndedAt = time.Now().UTC()
	run.Output = output.String()
	run.Status = StatusCompleted
	if runErr == nil {
		logger.Info("bot finished", slog.Duration("duration", run.Duration()))
		return run, nil
	}

	run.Status = StatusFailed
	run.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		run.ExitCode = exitErr.ExitCode()
	}
	run.Error = runErr.Error()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		run.Error = fmt.Sprintf("bot %s timed out after %s", bot.ID, timeout)
	}
	logger.Error("bot failed", slog.Int("exit_code", run.ExitCode), slog.String("error", run.Error))
	return run, nil
}

func (r *Runner) timeoutFor(bot Bot) time.Duration {
	switch {
	case r.timeout > 0:
		return r.timeout
	case bot.EstimatedDuration > 0:
		return 2 * bot.EstimatedDuration
	}
	return 10 * time.Minute
}
