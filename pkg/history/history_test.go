package history_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/multiscale/costeer/pkg/history"
	"github.com/multiscale/costeer/pkg/types"
)

func TestRecordAndReadTransitions(t *testing.T) {
	dir := t.TempDir()
	store, err := history.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RecordTransition("comp-1", types.StateReady, types.CommandInit, types.StateSynchronizing))
	require.NoError(t, store.RecordTransition("comp-1", types.StateSynchronizing, types.CommandStart, types.StateRunning))
	require.NoError(t, store.RecordTransition("comp-2", types.StateReady, types.CommandInit, types.StateSynchronizing))

	entries, err := store.Transitions("comp-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, types.StateReady, entries[0].Before)
	require.Equal(t, types.StateSynchronizing, entries[0].After)
	require.Equal(t, types.StateRunning, entries[1].After)
}

func TestRecordAndReadCommands(t *testing.T) {
	dir := t.TempDir()
	store, err := history.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.RecordCommand(types.CommandInit, "OK"))
	require.NoError(t, store.RecordCommand(types.CommandStart, "OK"))
	require.NoError(t, store.RecordCommand(types.CommandEnd, "OK"))

	entries, err := store.Commands()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, types.CommandInit, entries[0].Command)
	require.Equal(t, types.CommandEnd, entries[2].Command)
}
