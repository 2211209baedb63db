package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"Warning": LevelWarn,
		"warn":    LevelWarn,
		" error ": LevelError,
		"fatal":   LevelFatal,
		"":        LevelInfo,
		"chatty":  LevelInfo,
	}
	for input, want := range cases {
		assert.Equal(t, want, ParseLevel(input), "ParseLevel(%q)", input)
	}
}
