package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutTypeAlias(t *testing.T) {
	assert.Equal(t, ConsoleOut, OutTypeAlias(""))
	assert.Equal(t, ConsoleOut|NormalOut, OutTypeAlias("console | file"))
	assert.Equal(t, NormalOutWithTrack, OutTypeAlias("FILE|track"))
}

func TestFieldsString(t *testing.T) {
	f := Fields{"b": 2, "a": 1}.WithPrefix("writer")
	assert.Equal(t, "[writer] a=1 b=2", f.String())
	assert.Equal(t, "writer", f.Prefix())

	derived := f.WithField("session", "s1")
	assert.NotContains(t, f, "session")
	assert.Equal(t, "[writer] a=1 b=2 session=s1", derived.String())
	assert.Equal(t, "x", Fields{}.prepend("x"))
}

func TestChangeLogLevel(t *testing.T) {
	ChangeLogLevel(LevelInfo)
	assert.False(t, IsDebugEnabled())
	ChangeLogLevel(LevelDebug)
	assert.True(t, IsDebugEnabled())
	Fields{}.WithPrefix("test").Debug("debug %d", 1)
	Info("info %s", "ok")
}
