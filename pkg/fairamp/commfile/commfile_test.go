package commfile_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/cdkim/fairamp/pkg/fairamp/commfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DefaultsAndOverrides(t *testing.T) {
	input := strings.Join([]string{
		"# a comment",
		"cmd: ./bench --foo 1",
		"speedup: 2.3 num: 4 cmd: ./bench --bar",
		"speedup: -1 cmd: ./pinned",
		"",
	}, "\n")

	commands, err := commfile.Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, commands, 3)

	assert.Equal(t, 0, commands[0].Num)
	assert.Equal(t, 1.0, commands[0].SpeedupHint)
	assert.Equal(t, 1, commands[0].NumThreads)
	assert.Equal(t, []string{"./bench", "--foo", "1"}, commands[0].Argv)
	assert.Equal(t, "./bench", commands[0].Name)

	assert.Equal(t, 2.3, commands[1].SpeedupHint)
	assert.Equal(t, 4, commands[1].NumThreads)
	assert.Equal(t, []string{"./bench", "--bar"}, commands[1].Argv)

	assert.Equal(t, -1.0, commands[2].SpeedupHint)
	assert.Equal(t, []string{"./pinned"}, commands[2].Argv)
}

func TestParse_RejectsEmptyCommand(t *testing.T) {
	_, err := commfile.Parse(strings.NewReader("speedup: 1.0 cmd:\n"))
	require.Error(t, err)
	var perr *commfile.ParseError
	require.True(t, errors.As(err, &perr))
	assert.ErrorIs(t, err, commfile.ErrEmptyCommand)
}

func TestParse_RejectsMissingCmdToken(t *testing.T) {
	_, err := commfile.Parse(strings.NewReader("speedup: 1.0\n"))
	assert.Error(t, err)
}

func TestParse_RejectsUnknownToken(t *testing.T) {
	_, err := commfile.Parse(strings.NewReader("bogus: 1 cmd: ./a\n"))
	assert.Error(t, err)
}

func TestParse_RejectsInvalidSpeedupValue(t *testing.T) {
	_, err := commfile.Parse(strings.NewReader("speedup: notafloat cmd: ./a\n"))
	assert.Error(t, err)
}

func TestParse_NumbersCommandsInFileOrder(t *testing.T) {
	input := "cmd: ./a\ncmd: ./b\ncmd: ./c\n"
	commands, err := commfile.Parse(strings.NewReader(input))
	require.NoError(t, err)
	for i, c := range commands {
		assert.Equal(t, i, c.Num)
	}
}
