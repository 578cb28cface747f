package supervisor_test

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/cdkim/fairamp/pkg/fairamp/env"
	"github.com/cdkim/fairamp/pkg/fairamp/kernel"
	"github.com/cdkim/fairamp/pkg/fairamp/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memOutputOpener hands out a shared temp file per command, standing in
// for the real per-command output package.
type memOutputOpener struct {
	files map[int]*os.File
}

func newMemOutputOpener() *memOutputOpener {
	return &memOutputOpener{files: map[int]*os.File{}}
}

func (m *memOutputOpener) Open(c *env.Command) (*os.File, error) {
	f, err := os.CreateTemp(os.TempDir(), "fairamp-supervisor-test-*")
	if err != nil {
		return nil, err
	}
	m.files[c.Num] = f
	return f, nil
}

type noopRecomputer struct{ calls int }

func (r *noopRecomputer) Recompute(forceActive bool) error {
	r.calls++
	return nil
}

func TestLaunchAndRun_ReapsAllCommandsOnce(t *testing.T) {
	commands := []*env.Command{
		{Num: 0, Name: "true", Argv: []string{"/bin/true"}, NumThreads: 1},
		{Num: 1, Name: "false", Argv: []string{"/bin/false"}, NumThreads: 1},
	}
	e := env.New(commands, 1, 1, 0)
	sup := supervisor.New(e, kernel.NewFake(), newMemOutputOpener(), true, false, nil)

	require.NoError(t, sup.Launch())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := &noopRecomputer{}
	require.NoError(t, sup.Run(ctx, true, rec))

	for _, c := range commands {
		assert.True(t, c.Finished)
		assert.True(t, c.State.IsExited())
	}
	// periodicUpdate=true means Run never calls the one-shot recompute.
	assert.Equal(t, 0, rec.calls)
}

func TestRun_OneShotRecomputeWhenNotPeriodic(t *testing.T) {
	commands := []*env.Command{
		{Num: 0, Name: "true", Argv: []string{"/bin/true"}, NumThreads: 1},
	}
	e := env.New(commands, 1, 1, 0)
	sup := supervisor.New(e, kernel.NewFake(), newMemOutputOpener(), true, false, nil)

	require.NoError(t, sup.Launch())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec := &noopRecomputer{}
	require.NoError(t, sup.Run(ctx, false, rec))

	assert.Equal(t, 1, rec.calls)
}

func TestSpawn_PinModePublishesCorePinningNotVruntime(t *testing.T) {
	commands := []*env.Command{
		{Num: 0, Name: "true", Argv: []string{"/bin/true"}, NumThreads: 1, SpeedupHint: -1, CPUMask: []int{2, 3}},
	}
	e := env.New(commands, 1, 1, 0)
	fake := kernel.NewFake()
	sup := supervisor.New(e, fake, newMemOutputOpener(), true, false, nil)

	require.NoError(t, sup.Launch())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sup.Run(ctx, true, nil))

	assert.Empty(t, fake.Vruntimes)
	assert.NotEmpty(t, fake.Pins)
}

func TestOutput_CapturesStdout(t *testing.T) {
	commands := []*env.Command{
		{Num: 0, Name: "echo", Argv: []string{"/bin/echo", "hello-supervisor"}, NumThreads: 1},
	}
	e := env.New(commands, 1, 1, 0)
	opener := newMemOutputOpener()
	sup := supervisor.New(e, kernel.NewFake(), opener, true, false, nil)

	require.NoError(t, sup.Launch())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sup.Run(ctx, true, nil))

	f := opener.files[0]
	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("hello-supervisor")))
	os.Remove(f.Name())
}
