package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommandStatusPhrases(t *testing.T) {
	for _, text := range []string{"status", "Status", "what's the status", "how's it going", "HOWS IT GOING"} {
		cmd, ok := ParseCommand(text)
		assert.True(t, ok, text)
		assert.Equal(t, CmdStatus, cmd.Kind, text)
	}
}

func TestParseCommandSimplePhrases(t *testing.T) {
	cases := map[string]CommandKind{
		"queue":   CmdQueue,
		"Queue":   CmdQueue,
		"pause":   CmdPause,
		"resume":  CmdResume,
		"history": CmdHistory,
		"help":    CmdHelp,
	}
	for text, kind := range cases {
		cmd, ok := ParseCommand(text)
		assert.True(t, ok, text)
		assert.Equal(t, kind, cmd.Kind, text)
	}
}

func TestParseCommandWorkWithRepo(t *testing.T) {
	cmd, ok := ParseCommand("work on org/repo#42")
	assert.True(t, ok)
	assert.Equal(t, CmdWork, cmd.Kind)
	assert.Equal(t, 42, cmd.Number)
	assert.NotEmpty(t, cmd.Repo)
}

func TestParseCommandWorkWithoutRepo(t *testing.T) {
	cmd, ok := ParseCommand("work on #7")
	assert.True(t, ok)
	assert.Equal(t, CmdWork, cmd.Kind)
	assert.Equal(t, 7, cmd.Number)
	assert.Empty(t, cmd.Repo)
}

func TestParseCommandStopByIssue(t *testing.T) {
	cmd, ok := ParseCommand("stop #12")
	assert.True(t, ok)
	assert.Equal(t, CmdStop, cmd.Kind)
	assert.Equal(t, 12, cmd.Number)
	assert.Empty(t, cmd.Target)
}

func TestParseCommandStopByMinionID(t *testing.T) {
	cmd, ok := ParseCommand("stop minion-ab12cd34")
	assert.True(t, ok)
	assert.Equal(t, CmdStop, cmd.Kind)
	assert.Equal(t, "minion-ab12cd34", cmd.Target)
}

func TestParseCommandKillAliasesStop(t *testing.T) {
	cmd, ok := ParseCommand("kill #3")
	assert.True(t, ok)
	assert.Equal(t, CmdStop, cmd.Kind)
	assert.Equal(t, 3, cmd.Number)
}

func TestParseCommandReview(t *testing.T) {
	cmd, ok := ParseCommand("review org/repo#99")
	assert.True(t, ok)
	assert.Equal(t, CmdReview, cmd.Kind)
	assert.Equal(t, 99, cmd.Number)
}

func TestParseCommandCheckPRAliasesReview(t *testing.T) {
	cmd, ok := ParseCommand("check pr #5")
	assert.True(t, ok)
	assert.Equal(t, CmdReview, cmd.Kind)
	assert.Equal(t, 5, cmd.Number)
}

func TestParseCommandUnrecognized(t *testing.T) {
	_, ok := ParseCommand("do a backflip")
	assert.False(t, ok)
}

func TestParseCommandEmptyInput(t *testing.T) {
	_, ok := ParseCommand("")
	assert.False(t, ok)
}
