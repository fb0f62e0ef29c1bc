package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"trackerd/internal/logging"
)

func TestInit_VerbosityGatesLevel(t *testing.T) {
	cases := []struct {
		verbosity int
		want      zerolog.Level
	}{
		{0, zerolog.ErrorLevel},
		{1, zerolog.WarnLevel},
		{2, zerolog.InfoLevel},
		{3, zerolog.DebugLevel},
		{99, zerolog.DebugLevel},
	}

	for _, tc := range cases {
		var buf bytes.Buffer
		logging.Init(logging.Config{Verbosity: tc.verbosity, JSONOutput: true, Output: &buf})

		require.Equal(t, tc.want, zerolog.GlobalLevel())
	}
}

func TestInit_JSONOutputWritesDecodableLines(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Verbosity: 3, JSONOutput: true, Output: &buf})

	logging.Logger.Info().Str("k", "v").Msg("hello")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "hello", decoded["message"])
	require.Equal(t, "v", decoded["k"])
}

func TestWithComponent_TagsComponentField(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Verbosity: 3, JSONOutput: true, Output: &buf})

	logging.WithComponent("crawler").Info().Msg("scanned")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "crawler", decoded["component"])
}

func TestWithModule_TagsComponentAndModuleFields(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Verbosity: 3, JSONOutput: true, Output: &buf})

	logging.WithModule("orchestrator", "files").Info().Msg("started")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "orchestrator", decoded["component"])
	require.Equal(t, "files", decoded["module"])
}
