package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// fakePC reports Connected once both descriptions are set, unless stalled.
type fakePC struct {
	self, remote int
	stall        bool

	mu         sync.Mutex
	local      *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     int
	closed     bool
	connected  bool
	onState    func(webrtc.PeerConnectionState)
}

func (f *fakePC) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks++
	return nil, nil
}

func (f *fakePC) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer %d>%d", f.self, f.remote)}, nil
}

func (f *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteDesc == nil {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer %d>%d", f.self, f.remote)}, nil
}

func (f *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	f.local = &d
	f.mu.Unlock()
	f.maybeConnect()
	return nil
}

func (f *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	f.remoteDesc = &d
	f.mu.Unlock()
	f.maybeConnect()
	return nil
}

func (f *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteDesc == nil {
		return errors.New("remote description not set")
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakePC) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (f *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *fakePC) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakePC) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePC) maybeConnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stall || f.connected || f.closed || f.local == nil || f.remoteDesc == nil || f.onState == nil {
		return
	}
	f.connected = true
	go f.onState(webrtc.PeerConnectionStateConnected)
}

func (f *fakePC) fail() {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(webrtc.PeerConnectionStateFailed)
}

func (f *fakePC) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakePC) appliedCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.candidates...)
}

type fakeFactory struct {
	self   int
	stall  bool
	refuse map[int]bool

	mu  sync.Mutex
	pcs map[int][]*fakePC
}

func newFakeFactory(self int) *fakeFactory {
	return &fakeFactory{self: self, refuse: map[int]bool{}, pcs: map[int][]*fakePC{}}
}

func (f *fakeFactory) NewPeerConnection(remoteID int) (PeerConnection, error) {
	if f.refuse[remoteID] {
		return nil, errors.New("no route to peer")
	}
	pc := &fakePC{self: f.self, remote: remoteID, stall: f.stall}
	f.mu.Lock()
	f.pcs[remoteID] = append(f.pcs[remoteID], pc)
	f.mu.Unlock()
	return pc, nil
}

func (f *fakeFactory) last(remoteID int) *fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.pcs[remoteID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (f *fakeFactory) count(remoteID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcs[remoteID])
}

type fakeMic struct {
	err error

	mu     sync.Mutex
	opened int
	audio  *fakeAudio
}

func (m *fakeMic) Open(ctx context.Context) (LocalAudio, error) {
	if m.err != nil {
		return nil, m.err
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
	m.audio = &fakeAudio{track: track}
	return m.audio, nil
}

func (m *fakeMic) current() *fakeAudio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audio
}

type fakeAudio struct {
	track webrtc.TrackLocal

	mu     sync.Mutex
	muted  bool
	closed bool
}

func (a *fakeAudio) Track() webrtc.TrackLocal { return a.track }

func (a *fakeAudio) SetMuted(m bool) {
	a.mu.Lock()
	a.muted = m
	a.mu.Unlock()
}

func (a *fakeAudio) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

func (a *fakeAudio) state() (muted, closed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted, a.closed
}
