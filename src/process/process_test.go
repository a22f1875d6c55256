package process

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExec(t *testing.T) {
	result, err := New().Exec(context.Background(), nil, "true")
	assert.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, 0, len(result.Stdout))
}

func TestExecFailure(t *testing.T) {
	result, err := New().Exec(context.Background(), nil, "false")
	assert.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
}

func TestExecNotFound(t *testing.T) {
	_, err := New().Exec(context.Background(), nil, "/definitely/not/a/real/binary")
	assert.Error(t, err)
}

func TestExecNoCommand(t *testing.T) {
	_, err := New().Exec(context.Background(), nil)
	assert.Error(t, err)
}

func TestExecWithStdin(t *testing.T) {
	result, err := New().ExecWithStdin(context.Background(), nil, []byte("hello\nworld\n"), "cat")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(result.Stdout))
	assert.Equal(t, "", string(result.Stderr))
}

func TestExecWithStdinLargeInput(t *testing.T) {
	// Larger than any pipe buffer, so this deadlocks unless stdin and stdout are pumped concurrently.
	input := strings.Repeat("my $x = 1;\n", 100000)
	result, err := New().ExecWithStdin(context.Background(), nil, []byte(input), "cat")
	require.NoError(t, err)
	assert.Equal(t, len(input), len(result.Stdout))
}

func TestExecSeparatesStreams(t *testing.T) {
	result, err := New().Exec(context.Background(), nil, "sh", "-c", "echo out; echo err 1>&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(result.Stdout))
	assert.Equal(t, "err\n", string(result.Stderr))
	assert.Equal(t, 3, result.ExitCode)
}

func TestExecIgnoresUnreadStdin(t *testing.T) {
	input := strings.Repeat("x", 1<<20)
	result, err := New().ExecWithStdin(context.Background(), nil, []byte(input), "true")
	assert.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
}

func TestExecEnvironment(t *testing.T) {
	result, err := New().Exec(context.Background(), []string{"DOCKER_HOST=tcp://192.168.99.100:2376"}, "sh", "-c", "echo $DOCKER_HOST")
	require.NoError(t, err)
	assert.Equal(t, "tcp://192.168.99.100:2376\n", string(result.Stdout))
}

func TestExecCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New().Exec(ctx, nil, "sleep", "10")
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestKillSubprocesses(t *testing.T) {
	e := New()
	cmd := e.ExecCommand("sleep", "infinity")
	assert.Equal(t, 1, len(e.processes))
	err := cmd.Start()
	assert.NoError(t, err)
	e.killAll()
	err = cmd.Wait()
	assert.Error(t, err)
}

func TestProcessesAreDeregistered(t *testing.T) {
	e := New()
	_, err := e.Exec(context.Background(), nil, "true")
	assert.NoError(t, err)
	assert.Equal(t, 0, len(e.processes))
}
