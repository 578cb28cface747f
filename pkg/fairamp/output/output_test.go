package output_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cdkim/fairamp/pkg/fairamp/env"
	"github.com/cdkim/fairamp/pkg/fairamp/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_CreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	base := filepath.Join(dir, "result.out")

	_, err := output.NewManager(base)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpen_CreatesPerCommandTempFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "result.out")
	m, err := output.NewManager(base)
	require.NoError(t, err)

	c := &env.Command{Num: 3}
	f, err := m.Open(c)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, 3, c.OutputIdx)
	assert.FileExists(t, base+".03")
}

func TestMerge_WritesBannerAndContentsPerCommand(t *testing.T) {
	base := filepath.Join(t.TempDir(), "result.out")
	m, err := output.NewManager(base)
	require.NoError(t, err)

	commands := []*env.Command{{Num: 0}, {Num: 1}}
	for i, c := range commands {
		f, err := m.Open(c)
		require.NoError(t, err)
		_, err = f.WriteString("hello from command " + string(rune('a'+i)) + "\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	require.NoError(t, m.Merge(commands))

	merged, err := os.ReadFile(base)
	require.NoError(t, err)
	content := string(merged)

	assert.Contains(t, content, "output00==")
	assert.Contains(t, content, "output01==")
	assert.Contains(t, content, "hello from command a")
	assert.Contains(t, content, "hello from command b")
	assert.Less(t, indexOf(content, "output00"), indexOf(content, "output01"))
}

func TestMerge_FailsWhenATempFileIsMissing(t *testing.T) {
	base := filepath.Join(t.TempDir(), "result.out")
	m, err := output.NewManager(base)
	require.NoError(t, err)

	err = m.Merge([]*env.Command{{Num: 5}})
	assert.Error(t, err)
}

func TestDeleteTemp_RemovesEveryTempFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "result.out")
	m, err := output.NewManager(base)
	require.NoError(t, err)

	c := &env.Command{Num: 0}
	f, err := m.Open(c)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m.DeleteTemp([]*env.Command{c})
	assert.NoFileExists(t, base+".00")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
