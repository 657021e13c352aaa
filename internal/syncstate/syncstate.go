// Package syncstate derives the wallet's single sync status from raw chain
// download callbacks.
package syncstate

import (
	"fmt"
	"sync"
)

// Phase is a sync lifecycle phase. Phases only move forward within a session.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseDownloading
	PhaseProgressing
	PhaseComplete
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseDownloading:
		return "downloading"
	case PhaseProgressing:
		return "progressing"
	case PhaseComplete:
		return "complete"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Status texts.
const (
	TextNotStarted    = "Waiting for wallet..."
	TextPeerConnected = "Connected to peer. Waiting for sync..."
	TextComplete      = "Sync completed"
	TextReady         = "Wallet ready"
)

// State is an immutable sync state value.
type State struct {
	Phase         Phase   `json:"phase"`
	TotalBlocks   int     `json:"total_blocks"`
	Percent       float64 `json:"percent"`
	BlocksSoFar   int     `json:"blocks_so_far"`
	PeerConnected bool    `json:"peer_connected"`
}

// StatusText maps a state to the text shown to observers.
func (s State) StatusText() string {
	switch s.Phase {
	case PhaseNotStarted:
		if s.PeerConnected {
			return TextPeerConnected
		}
		return TextNotStarted
	case PhaseDownloading:
		return "Syncing... 0.00%"
	case PhaseProgressing:
		return fmt.Sprintf("Syncing... %.2f%%", s.Percent)
	case PhaseComplete:
		return TextComplete
	case PhaseReady:
		return TextReady
	default:
		return ""
	}
}

// Syncing reports whether the status text is a syncing label.
func (s State) Syncing() bool {
	return s.Phase == PhaseDownloading || s.Phase == PhaseProgressing
}

// Fraction returns download progress in [0, 1]; 1 once the download is done.
func (s State) Fraction() float64 {
	switch s.Phase {
	case PhaseProgressing:
		return s.Percent / 100
	case PhaseComplete, PhaseReady:
		return 1
	default:
		return 0
	}
}

// Machine is the sync state machine. Every transition method reports whether
// the state changed; ignored (backward or duplicate) transitions return false.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine returns a machine in PhaseNotStarted.
func NewMachine() *Machine {
	return &Machine{}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// DownloadStarted moves NotStarted to Downloading.
func (m *Machine) DownloadStarted(totalBlocks int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Phase != PhaseNotStarted {
		return false
	}
	m.state.Phase = PhaseDownloading
	m.state.TotalBlocks = totalBlocks
	return true
}

// Progress records download progress. Progress never moves backwards and is
// ignored once the download has completed.
func (m *Machine) Progress(percent float64, blocksSoFar int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state.Phase {
	case PhaseNotStarted, PhaseDownloading:
	case PhaseProgressing:
		if percent <= m.state.Percent {
			return false
		}
	default:
		return false
	}

	if percent > 100 {
		percent = 100
	}
	m.state.Phase = PhaseProgressing
	m.state.Percent = percent
	m.state.BlocksSoFar = blocksSoFar
	return true
}

// DownloadComplete moves any pre-complete phase to Complete.
func (m *Machine) DownloadComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Phase >= PhaseComplete {
		return false
	}
	m.state.Phase = PhaseComplete
	return true
}

// PeerConnected records the first peer connection.
func (m *Machine) PeerConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.PeerConnected {
		return false
	}
	m.state.PeerConnected = true
	// Only the NotStarted text reflects the peer.
	return m.state.Phase == PhaseNotStarted
}

// CheckReady moves to Ready when the label is a syncing label or Complete,
// the wallet is consistent, and at least one block has been seen.
func (m *Machine) CheckReady(consistent bool, lastBlockSeenHeight int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Syncing() && m.state.Phase != PhaseComplete {
		return false
	}
	if !consistent || lastBlockSeenHeight <= 0 {
		return false
	}
	m.state.Phase = PhaseReady
	return true
}

// Reset starts a new session.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{}
}
