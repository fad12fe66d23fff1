package bots

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryRejectsDuplicatesAndEmptyCommands(t *testing.T) {
	_, err := NewRegistry(Bot{ID: "a", Command: []string{"true"}}, Bot{ID: "a", Command: []string{"true"}})
	require.Error(t, err)
	_, err = NewRegistry(Bot{ID: "b"})
	require.Error(t, err)
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry("python3", "entrada-nf")
	ids := make([]string, 0)
	for _, b := range r.List() {
		ids = append(ids, b.ID)
	}
	require.Equal(t, []string{"consulta_nfe", "rm_login", "sic_full", "sic_inserir_nfs", "sic_login"}, ids)

	bot, err := r.Get("sic_login")
	require.NoError(t, err)
	require.Equal(t, []string{"python3", "entrada-nf/Sic_Login.py"}, bot.Command)

	_, err = r.Get("nope")
	require.ErrorIs(t, err, ErrUnknownBot)
}

func TestRunnerCapturesOutputAndExitCode(t *testing.T) {
	r, err := NewRegistry(
		Bot{ID: "ok", Command: []string{"sh", "-c", "echo hello $" + ExecutionIDEnv}},
		Bot{ID: "fail", Command: []string{"sh", "-c", "echo broken >&2; exit 3"}},
		Bot{ID: "missing", Command: []string{"/nonexistent/bot"}},
	)
	require.NoError(t, err)
	runner := NewRunner(r, 0, quietLogger())

	run, err := runner.Run(context.Background(), "ok")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status)
	require.Zero(t, run.ExitCode)
	require.Equal(t, "hello "+run.ID, strings.TrimSpace(run.Output))
	require.False(t, run.EndedAt.Before(run.StartedAt))

	run, err = runner.Run(context.Background(), "fail")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, run.Status)
	require.Equal(t, 3, run.ExitCode)
	require.Contains(t, run.Output, "broken")

	run, err = runner.Run(context.Background(), "missing")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, run.Status)
	require.Equal(t, -1, run.ExitCode)

	_, err = runner.Run(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUnknownBot)
}

func TestRunnerTimeout(t *testing.T) {
	r, err := NewRegistry(Bot{ID: "slow", Command: []string{"sleep", "5"}})
	require.NoError(t, err)
	run, err := NewRunner(r, 100*time.Millisecond, quietLogger()).Run(context.Background(), "slow")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, run.Status)
	require.Contains(t, run.Error, "timed out")
}
