package syncstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusSequence(t *testing.T) {
	m := NewMachine()
	var texts []string
	record := func(changed bool) {
		if changed {
			texts = append(texts, m.State().StatusText())
		}
	}

	record(m.DownloadStarted(100))
	record(m.Progress(50.0, 50))
	record(m.Progress(100.0, 100))
	m.DownloadComplete()
	record(m.CheckReady(true, 812345))

	assert.Equal(t, []string{
		"Syncing... 0.00%",
		"Syncing... 50.00%",
		"Syncing... 100.00%",
		"Wallet ready",
	}, texts)
}

func TestCompleteWithoutConsistency(t *testing.T) {
	m := NewMachine()
	m.DownloadStarted(10)
	require.True(t, m.DownloadComplete())

	assert.False(t, m.CheckReady(false, 100))
	assert.Equal(t, "Sync completed", m.State().StatusText())

	assert.False(t, m.CheckReady(true, 0))
	assert.Equal(t, PhaseComplete, m.State().Phase)
}

func TestReadyNeverRegresses(t *testing.T) {
	m := NewMachine()
	m.DownloadStarted(10)
	m.DownloadComplete()
	require.True(t, m.CheckReady(true, 1))

	assert.False(t, m.DownloadStarted(5))
	assert.False(t, m.Progress(10, 1))
	assert.False(t, m.DownloadComplete())
	assert.False(t, m.CheckReady(false, 0))
	assert.Equal(t, "Wallet ready", m.State().StatusText())
}

func TestReadyCheckRequiresSyncingOrComplete(t *testing.T) {
	m := NewMachine()
	assert.False(t, m.CheckReady(true, 100))
	assert.Equal(t, PhaseNotStarted, m.State().Phase)

	m.DownloadStarted(100)
	assert.True(t, m.CheckReady(true, 100))
}

func TestProgressIsMonotonic(t *testing.T) {
	m := NewMachine()
	m.DownloadStarted(100)
	require.True(t, m.Progress(40, 40))
	assert.False(t, m.Progress(30, 30))
	assert.False(t, m.Progress(40, 40))

	st := m.State()
	assert.Equal(t, 40.0, st.Percent)
	assert.InDelta(t, 0.4, st.Fraction(), 1e-9)
}

func TestProgressWithoutStart(t *testing.T) {
	m := NewMachine()
	require.True(t, m.Progress(12.346, 12))
	assert.Equal(t, "Syncing... 12.35%", m.State().StatusText())
}

func TestPeerConnected(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, TextNotStarted, m.State().StatusText())

	require.True(t, m.PeerConnected())
	assert.Equal(t, TextPeerConnected, m.State().StatusText())
	assert.False(t, m.PeerConnected())

	m.DownloadStarted(3)
	assert.Equal(t, "Syncing... 0.00%", m.State().StatusText())
}

func TestPeerConnectedAfterDownload(t *testing.T) {
	m := NewMachine()
	m.DownloadStarted(3)
	assert.False(t, m.PeerConnected())
	assert.True(t, m.State().PeerConnected)
}

func TestReset(t *testing.T) {
	m := NewMachine()
	m.DownloadStarted(3)
	m.DownloadComplete()
	m.Reset()

	assert.Equal(t, State{}, m.State())
	assert.True(t, m.DownloadStarted(7))
}

func TestFraction(t *testing.T) {
	assert.Equal(t, 0.0, State{Phase: PhaseDownloading}.Fraction())
	assert.Equal(t, 1.0, State{Phase: PhaseComplete}.Fraction())
	assert.Equal(t, 1.0, State{Phase: PhaseReady}.Fraction())
}
