package rtc

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// PeerState is the negotiation state of one remote participant.
type PeerState int

const (
	PeerIdle PeerState = iota
	PeerOffering
	PeerAnswering
	PeerConnected
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerIdle:
		return "idle"
	case PeerOffering:
		return "offering"
	case PeerAnswering:
		return "answering"
	case PeerConnected:
		return "connected"
	case PeerClosed:
		return "closed"
	}
	return "unknown"
}

func (s PeerState) negotiating() bool {
	return s == PeerOffering || s == PeerAnswering
}

// PeerConnection is the part of *webrtc.PeerConnection the engine drives.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

var _ PeerConnection = (*webrtc.PeerConnection)(nil)

// PeerFactory opens a peer connection towards remoteID.
type PeerFactory interface {
	NewPeerConnection(remoteID int) (PeerConnection, error)
}

// PeerEvent reports a state change or failure of one peer.
type PeerEvent struct {
	PeerID int
	State  PeerState
	Muted  bool
	Err    error
}

// PeerInfo is a snapshot of one peer.
type PeerInfo struct {
	ID    int
	State PeerState
	Muted bool
	Err   error
}

// peer holds the negotiation state for one remote user. mu serialises every
// operation on pc; pc.Close is always called after mu is released.
type peer struct {
	id int

	mu        sync.Mutex
	state     PeerState
	pc        PeerConnection
	gen       int
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	muted     bool
	err       error
	timer     *time.Timer
}

// detach drops the current connection and returns it for closing.
func (p *peer) detach() PeerConnection {
	pc := p.pc
	p.pc = nil
	p.gen++
	p.remoteSet = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	return pc
}

func (p *peer) info() PeerInfo {
	return PeerInfo{ID: p.id, State: p.state, Muted: p.muted, Err: p.err}
}

func closeQuietly(pc PeerConnection) {
	if pc != nil {
		_ = pc.Close()
	}
}
