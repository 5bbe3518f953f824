package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandid(t *testing.T) {
	got, err := parseCandid("1001")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), got)

	for _, bad := range []string{"", "abc", "-5", "0"} {
		_, err := parseCandid(bad)
		assert.Error(t, err, bad)
	}
}

func TestVersionSkipsConfig(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--config", "/nonexistent/config.yaml"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "alertingest dev")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "ingest", "inspect", "show", "history", "lightcurve", "migrate", "version"} {
		assert.True(t, names[want], want)
	}
}
