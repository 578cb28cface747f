package kernel_test

import (
	"testing"

	"github.com/cdkim/fairamp/pkg/fairamp/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_SetCoreTypeIsExclusive(t *testing.T) {
	f := kernel.NewFake()
	require.NoError(t, f.SetFastCore(0))
	require.NoError(t, f.SetSlowCore(0))
	assert.False(t, f.FastCores[0])
	assert.True(t, f.SlowCores[0])
}

func TestFake_GetThreadsInfoMatchesBySelectorNum(t *testing.T) {
	f := kernel.NewFake().WithSamples([]kernel.ThreadSample{
		{Num: 0, PID: 10}, {Num: 1, PID: 11},
	})
	req := []kernel.ThreadSample{
		{Num: 0, PID: 10}, {Num: 1, PID: 11}, {Num: 2, PID: 12},
	}
	got, err := f.GetThreadsInfo(req)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 10, got[0].PID)
	assert.Equal(t, 11, got[1].PID)
	assert.Zero(t, got[2].PID) // no sample for Num 2
}

func TestFake_GetThreadsInfoSkipsInactiveSelectors(t *testing.T) {
	f := kernel.NewFake().WithSamples([]kernel.ThreadSample{{Num: 0, PID: 10}})
	req := []kernel.ThreadSample{{Num: 0, PID: 0}} // PID 0 means not currently running
	got, err := f.GetThreadsInfo(req)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Zero(t, got[0].PID)
}

func TestFake_PropagatesConfiguredError(t *testing.T) {
	f := kernel.NewFake()
	f.Err = assert.AnError
	_, err := f.GetThreadsInfo([]kernel.ThreadSample{{Num: 0, PID: 1}})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestError_MessageIncludesOpcodeAndCode(t *testing.T) {
	err := &kernel.Error{Op: kernel.OpSetFastCore, Code: 22}
	assert.Contains(t, err.Error(), "22")
}
