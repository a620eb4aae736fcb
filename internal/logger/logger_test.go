package logger

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestConfigureLevels(t *testing.T) {
	cases := []struct {
		level    LogLevel
		expected logrus.Level
	}{
		{DebugLevel, logrus.DebugLevel},
		{InfoLevel, logrus.InfoLevel},
		{WarnLevel, logrus.WarnLevel},
		{ErrorLevel, logrus.ErrorLevel},
		{SilentLevel, logrus.PanicLevel},
		{"bogus", logrus.InfoLevel},
	}
	for _, tc := range cases {
		Configure(tc.level, nil)
		require.Equal(t, tc.expected, Get().GetLevel(), "level %q", tc.level)
	}
	Configure(SilentLevel, nil)
}

func TestSilentLevelSuppressesUntilReconfigured(t *testing.T) {
	var buf bytes.Buffer
	Configure(SilentLevel, &buf)
	Infof("flushed %d requests", 3)
	Errorf("node %s unreachable", "node-a:6379")
	require.Empty(t, buf.String())

	Configure(DebugLevel, &buf)
	Debugf("flushed %d requests", 3)
	require.Contains(t, buf.String(), "flushed 3 requests")
	Configure(SilentLevel, nil)
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(InfoLevel, &buf)
	WithFields(logrus.Fields{"node": "node-b:6379", "requests": 4}).Info("dispatched")
	out := buf.String()
	require.Contains(t, out, "dispatched")
	require.Contains(t, out, "node-b:6379")
	Configure(SilentLevel, nil)
}
