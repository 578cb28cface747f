package coretype_test

import (
	"testing"

	"github.com/cdkim/fairamp/pkg/fairamp/coretype"
	"github.com/cdkim/fairamp/pkg/fairamp/env"
	"github.com/cdkim/fairamp/pkg/fairamp/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	online     map[int]bool
	governors  map[int]bool
	frequency  map[int]string
	affinity   []int
	currentErr error
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{
		online:    map[int]bool{},
		governors: map[int]bool{},
		frequency: map[int]string{},
	}
}

func (f *fakeApplier) SetOnline(cpu int, online bool) error {
	f.online[cpu] = online
	return nil
}
func (f *fakeApplier) SetGovernorUserspace(cpu int) error {
	f.governors[cpu] = true
	return nil
}
func (f *fakeApplier) SetFrequency(cpu int, freq string) error {
	f.frequency[cpu] = freq
	return nil
}
func (f *fakeApplier) CurrentFrequency(cpu int) (string, error) {
	if f.currentErr != nil {
		return "", f.currentErr
	}
	return f.frequency[cpu], nil
}
func (f *fakeApplier) SetAffinity(cpus []int) error {
	f.affinity = append([]int{}, cpus...)
	return nil
}

func TestDefaultLayout_SplitsOneThirdFast(t *testing.T) {
	layout := coretype.DefaultLayout(6)
	numFast, numSlow := coretype.Counts(layout)
	assert.Equal(t, 2, numFast) // (6+2)/3 = 2
	assert.Equal(t, 4, numSlow)
}

func TestParseLayout_DecodesEachRune(t *testing.T) {
	layout, err := coretype.ParseLayout("FSX1s0", 6)
	require.NoError(t, err)
	assert.Equal(t, []env.CoreType{
		env.FastCore, env.SlowCore, env.Offline,
		env.FastCore, env.SlowCore, env.SlowCore,
	}, layout)
}

func TestParseLayout_RejectsWrongLength(t *testing.T) {
	_, err := coretype.ParseLayout("FS", 4)
	assert.Error(t, err)
}

func TestParseLayout_RejectsUnknownRune(t *testing.T) {
	_, err := coretype.ParseLayout("FSZF", 4)
	assert.Error(t, err)
}

func TestConfigure_TagsFastAndSlowCoresThroughKernel(t *testing.T) {
	layout := []env.CoreType{env.FastCore, env.SlowCore, env.Offline}
	fake := kernel.NewFake()
	applier := newFakeApplier()

	cpus, err := coretype.Configure(layout, true, true, false, coretype.FrequencyRange{}, fake, applier)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{0, 1}, cpus)
	assert.True(t, fake.FastCores[0])
	assert.True(t, fake.SlowCores[1])
	assert.ElementsMatch(t, []int{0, 1}, applier.affinity)
}

func TestConfigure_PinsFrequencyWhenAdjustFreqSet(t *testing.T) {
	layout := []env.CoreType{env.FastCore, env.SlowCore}
	fake := kernel.NewFake()
	applier := newFakeApplier()
	freqs := coretype.FrequencyRange{Fast: "2000000", Slow: "1000000"}

	_, err := coretype.Configure(layout, false, false, true, freqs, fake, applier)
	require.NoError(t, err)

	assert.Equal(t, "2000000", applier.frequency[0])
	assert.Equal(t, "1000000", applier.frequency[1])
	assert.True(t, applier.governors[0])
	assert.True(t, applier.governors[1])
}

func TestAssignCommandCPUs_HandsOutCPUsInThreadOrder(t *testing.T) {
	commands := []*env.Command{
		{NumThreads: 2},
		{NumThreads: 1},
	}
	insufficient := coretype.AssignCommandCPUs([]int{0, 1, 2}, commands)
	assert.False(t, insufficient)
	assert.Equal(t, []int{0, 1}, commands[0].CPUMask)
	assert.Equal(t, []int{2}, commands[1].CPUMask)
}

func TestAssignCommandCPUs_ReportsShortfall(t *testing.T) {
	commands := []*env.Command{
		{NumThreads: 2},
		{NumThreads: 2},
	}
	insufficient := coretype.AssignCommandCPUs([]int{0, 1, 2}, commands)
	assert.True(t, insufficient)
	assert.Equal(t, []int{0, 1}, commands[0].CPUMask)
	assert.Nil(t, commands[1].CPUMask)
}

func TestConfigure_AsymmetryUnawareTagsEverythingSlow(t *testing.T) {
	layout := []env.CoreType{env.FastCore, env.SlowCore}
	fake := kernel.NewFake()
	applier := newFakeApplier()

	_, err := coretype.Configure(layout, true, false, false, coretype.FrequencyRange{}, fake, applier)
	require.NoError(t, err)

	assert.True(t, fake.SlowCores[0])
	assert.True(t, fake.SlowCores[1])
	assert.False(t, fake.FastCores[0])
}
