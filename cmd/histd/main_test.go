package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_RequiresExactlyOneDBPathArgument(t *testing.T) {
	err := rootCmd.Args(rootCmd, []string{})
	assert.Error(t, err)

	err = rootCmd.Args(rootCmd, []string{"one", "two"})
	assert.Error(t, err)

	err = rootCmd.Args(rootCmd, []string{"history.db"})
	require.NoError(t, err)
}

func TestEvalCmd_RequiresServerAddrArgument(t *testing.T) {
	err := evalCmd.Args(evalCmd, []string{})
	assert.Error(t, err)

	err = evalCmd.Args(evalCmd, []string{"myhost"})
	assert.NoError(t, err)
}
