package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	require.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
	require.Equal(t, zerolog.InfoLevel, parseLevel(""))
	require.Equal(t, zerolog.InfoLevel, parseLevel("verbose"))
}

func TestOutputFormat(t *testing.T) {
	_, console := output("").(zerolog.ConsoleWriter)
	require.True(t, console)
	_, console = output("json").(zerolog.ConsoleWriter)
	require.False(t, console)
}
