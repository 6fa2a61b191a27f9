package chain

import (
	"context"
	"testing"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/chainvault/chainvault/internal/plugin"
	"github.com/chainvault/chainvault/internal/redo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownClosesListenersAndLog(t *testing.T) {
	e := newTestEngine()
	l := e.Subscribe("comments", "post-1", 1)

	require.NoError(t, e.Shutdown(context.Background()))
	assert.True(t, e.IsShutdown())

	_, ok := <-l.Chan()
	assert.False(t, ok)

	_, err := e.Load(context.Background(), eventmodel.Sum([]byte("x")))
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestShutdownIsIdempotent(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Shutdown(context.Background()))
	assert.NoError(t, e.Shutdown(context.Background()))
}

func TestShutdownWithBackupModeCallsLogBackup(t *testing.T) {
	log := redo.NewMemLog(redo.SegmentHeader{Version: 1, DefaultFormat: eventmodel.FormatJSON})
	e := New(Config{Log: log, Plugins: plugin.NewStack(), BackupMode: BackupFull})
	assert.NoError(t, e.Shutdown(context.Background()))
}
