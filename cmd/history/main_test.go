package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basalt-labs/histd/pkg/config"
	"github.com/basalt-labs/histd/pkg/types"
)

func TestParseTimeArg_UnixSeconds(t *testing.T) {
	got, err := parseTimeArg("1700000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), got)
}

func TestParseTimeArg_RFC3339(t *testing.T) {
	got, err := parseTimeArg("2023-11-14T22:13:20Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), got)
}

func TestParseTimeArg_Invalid(t *testing.T) {
	_, err := parseTimeArg("not-a-time")
	assert.Error(t, err)
}

func TestRenderRows_HeaderAndColumns(t *testing.T) {
	var buf bytes.Buffer
	rows := []types.ResultRow{
		{EndTime: 1700000000, Session: 3, Argv: "ls -la\n", Dir: "/tmp", Host: "bob"},
	}
	renderRows(&buf, rows, false)

	out := buf.String()
	assert.Contains(t, out, "TIME")
	assert.Contains(t, out, "ls -la")
}

func TestRenderRows_NoHeaderSuppressesColumnLabels(t *testing.T) {
	var buf bytes.Buffer
	renderRows(&buf, []types.ResultRow{{Argv: "echo hi"}}, true)

	out := buf.String()
	assert.NotContains(t, out, "TIME")
	assert.Contains(t, out, "echo hi")
}

func TestBuildFilter_DefaultsToThisHost(t *testing.T) {
	cmd := rootCmd
	cmd.ParseFlags(nil)

	filter, err := buildFilter(cmd, nil, config.Process{ShortHost: "myhost"})
	require.NoError(t, err)
	assert.True(t, filter.HasHost)
	assert.Equal(t, "myhost", filter.Host)
}

func TestBuildFilter_PositionalArgIsCommandSubstring(t *testing.T) {
	cmd := rootCmd
	cmd.ParseFlags(nil)

	filter, err := buildFilter(cmd, []string{"git"}, config.Process{ShortHost: "myhost"})
	require.NoError(t, err)
	assert.True(t, filter.HasCmd)
	assert.Equal(t, "git", filter.Command)
}
