package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMethodAndOldHubHaveNoDefaults(t *testing.T) {
	cmd := newCommand()
	require.Empty(t, cmd.Flags().Lookup("method").DefValue)
	require.Empty(t, cmd.Flags().Lookup("old-hub").DefValue)
}

func TestMethodAndOldHubMustBeChosenExplicitly(t *testing.T) {
	cmd := newCommand()
	cmd.SetArgs([]string{"--primary-context", "hub-east", "--secondary-context", "hub-west"})

	err := cmd.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "method")
	require.Contains(t, err.Error(), "old-hub")
}
