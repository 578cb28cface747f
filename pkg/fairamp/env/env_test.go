package env_test

import (
	"testing"
	"time"

	"github.com/cdkim/fairamp/pkg/fairamp/env"
	"github.com/stretchr/testify/assert"
)

func TestProcState_Zero_IsNotStarted(t *testing.T) {
	var s env.ProcState
	assert.True(t, s.IsNotStarted())
	assert.Equal(t, 0, s.PID())
}

func TestProcState_Running_CarriesPID(t *testing.T) {
	s := env.Running(42)
	assert.True(t, s.IsRunning())
	assert.Equal(t, 42, s.PID())
	assert.Equal(t, 0, s.ExitStatus())
}

func TestProcState_Exited_CarriesStatus(t *testing.T) {
	s := env.Exited(1)
	assert.True(t, s.IsExited())
	assert.Equal(t, 1, s.ExitStatus())
	assert.Equal(t, 0, s.PID())
}

func TestRoundSlice_Sum(t *testing.T) {
	rs := env.RoundSlice{Fast: 10, Slow: 20}
	assert.EqualValues(t, 30, rs.Sum())
}

func TestEnvironment_DoneTransitionsOnce(t *testing.T) {
	e := env.New(nil, 2, 2, 2*time.Second)
	assert.False(t, e.Done())
	e.SetDone()
	assert.True(t, e.Done())
	e.SetDone()
	assert.True(t, e.Done())
}

func TestCommand_ActiveReflectsState(t *testing.T) {
	c := &env.Command{State: env.NotStarted}
	assert.False(t, c.Active())
	c.State = env.Running(5)
	assert.True(t, c.Active())
}
