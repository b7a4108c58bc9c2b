// Package rtc negotiates a full mesh of WebRTC audio connections between the
// members of one chat session. Offers, answers and ICE candidates travel over
// the session's signaling channel; media flows peer to peer.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"session-chat-service/internal/models"
	"session-chat-service/internal/signaling"
)

// DefaultNegotiationTimeout bounds the Offering and Answering states.
const DefaultNegotiationTimeout = 30 * time.Second

// ErrPeerFailed is reported when the media layer gives up on a connection.
var ErrPeerFailed = errors.New("peer connection failed")

const eventBuffer = 64

// Option configures an Engine.
type Option func(*Engine)

// WithNegotiationTimeout overrides DefaultNegotiationTimeout.
func WithNegotiationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithRemoteTrackHandler is called for every remote audio track received.
func WithRemoteTrackHandler(fn func(peerID int, track *webrtc.TrackRemote)) Option {
	return func(e *Engine) { e.onTrack = fn }
}

// Engine is the local client's view of the audio mesh in one session.
type Engine struct {
	selfID    int
	sessionID int
	transport signaling.Transport
	factory   PeerFactory
	mic       Microphone
	timeout   time.Duration
	onTrack   func(int, *webrtc.TrackRemote)

	ready     chan struct{}
	readyOnce sync.Once

	mu     sync.Mutex
	peers  map[int]*peer
	audio  LocalAudio
	joined bool
	muted  bool

	subMu   sync.Mutex
	subs    map[int]chan PeerEvent
	nextSub int
}

// New builds an engine for selfID in sessionID. Run must be started before
// JoinAudio can complete.
func New(selfID, sessionID int, transport signaling.Transport, factory PeerFactory, mic Microphone, opts ...Option) *Engine {
	e := &Engine{
		selfID:    selfID,
		sessionID: sessionID,
		transport: transport,
		factory:   factory,
		mic:       mic,
		timeout:   DefaultNegotiationTimeout,
		ready:     make(chan struct{}),
		peers:     make(map[int]*peer),
		subs:      make(map[int]chan PeerEvent),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) logf(format string, args ...any) {
	log.Printf("RTC [%d/%d]: "+format, append([]any{e.sessionID, e.selfID}, args...)...)
}

// Run consumes the session channel until ctx is done or the feed closes.
func (e *Engine) Run(ctx context.Context) error {
	feed, err := e.transport.Subscribe(ctx, e.sessionID)
	if err != nil {
		return err
	}
	defer e.transport.Unsubscribe(e.sessionID)
	e.readyOnce.Do(func() { close(e.ready) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-feed:
			if !ok {
				return fmt.Errorf("%w: session feed closed", models.ErrChannelUnavailable)
			}
			e.handle(ctx, env)
		}
	}
}

func (e *Engine) handle(ctx context.Context, env models.Envelope) {
	switch env.Type {
	case models.EnvelopeSessionClosed:
		e.logf("session closed, leaving audio")
		e.leaveAndLog(ctx)
		return
	case models.EnvelopeParticipantLeft:
		payload, ok := env.Data.(models.ParticipantPayload)
		if !ok {
			return
		}
		if payload.UserID == e.selfID {
			e.logf("removed from session, leaving audio")
			e.leaveAndLog(ctx)
			return
		}
		e.closePeer(payload.UserID, nil)
		return
	}

	if env.From == e.selfID || !env.DeliverableTo(e.selfID) {
		return
	}

	switch data := env.Data.(type) {
	case models.OfferPayload:
		e.acceptOffer(ctx, env.From, data.SDP)
		return
	case models.AnswerPayload:
		e.acceptAnswer(env.From, data.SDP)
		return
	case models.IceCandidatePayload:
		e.addCandidate(env.From, webrtc.ICECandidateInit{
			Candidate:        data.Candidate,
			SDPMid:           data.SDPMid,
			SDPMLineIndex:    data.SDPMLineIndex,
			UsernameFragment: data.UsernameFragment,
		})
		return
	}

	switch env.Type {
	case models.EnvelopeJoin:
		e.startOffer(ctx, env.From)
	case models.EnvelopeLeave:
		e.closePeer(env.From, nil)
	case models.EnvelopeMute:
		e.setPeerMuted(env.From, true)
	case models.EnvelopeUnmute:
		e.setPeerMuted(env.From, false)
	}
}

// JoinAudio acquires the microphone and announces this client to the session.
// Microphone failures are returned before any connection is attempted.
func (e *Engine) JoinAudio(ctx context.Context) error {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	joined := e.joined
	e.mu.Unlock()
	if joined {
		return nil
	}

	audio, err := e.mic.Open(ctx)
	if err != nil {
		e.logf("microphone unavailable: %v", err)
		return err
	}

	e.mu.Lock()
	if e.joined {
		e.mu.Unlock()
		_ = audio.Close()
		return nil
	}
	audio.SetMuted(e.muted)
	e.audio = audio
	e.joined = true
	e.peers = make(map[int]*peer)
	e.mu.Unlock()

	if err := e.send(ctx, models.EnvelopeJoin, 0, nil); err != nil {
		e.release()
		return err
	}
	e.logf("joined audio")
	return nil
}

// LeaveAudio releases local media, closes every peer and announces the
// departure. It is safe to call in any state; the returned error only
// reports a failed announcement.
func (e *Engine) LeaveAudio(ctx context.Context) error {
	if !e.release() {
		return nil
	}
	e.logf("left audio")
	return e.send(ctx, models.EnvelopeLeave, 0, nil)
}

func (e *Engine) leaveAndLog(ctx context.Context) {
	if err := e.LeaveAudio(ctx); err != nil {
		e.logf("leave announcement failed: %v", err)
	}
}

// release tears down local state and reports whether audio was joined.
func (e *Engine) release() bool {
	e.mu.Lock()
	if !e.joined {
		e.mu.Unlock()
		return false
	}
	e.joined = false
	audio := e.audio
	e.audio = nil
	peers := e.peers
	e.peers = make(map[int]*peer)
	e.mu.Unlock()

	if audio != nil {
		if err := audio.Close(); err != nil {
			e.logf("microphone close: %v", err)
		}
	}
	for _, p := range peers {
		p.mu.Lock()
		changed := p.state != PeerClosed
		pc := p.detach()
		p.state = PeerClosed
		p.pending = nil
		info := p.info()
		p.mu.Unlock()
		closeQuietly(pc)
		if changed {
			e.emit(info)
		}
	}
	return true
}

// SetMuted mutes or unmutes the local microphone and tells the session.
func (e *Engine) SetMuted(ctx context.Context, muted bool) error {
	e.mu.Lock()
	e.muted = muted
	audio := e.audio
	joined := e.joined
	e.mu.Unlock()

	if audio != nil {
		audio.SetMuted(muted)
	}
	if !joined {
		return nil
	}
	kind := models.EnvelopeUnmute
	if muted {
		kind = models.EnvelopeMute
	}
	return e.send(ctx, kind, 0, nil)
}

// Subscribe returns a feed of peer events. Slow subscribers miss events.
func (e *Engine) Subscribe() (<-chan PeerEvent, func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan PeerEvent, eventBuffer)
	e.subs[id] = ch
	e.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subs, id)
			close(ch)
			e.subMu.Unlock()
		})
	}
}

// Peers returns a snapshot of every known peer ordered by id.
func (e *Engine) Peers() []PeerInfo {
	e.mu.Lock()
	peers := make([]*peer, 0, len(e.peers))
	for _, p := range e.peers {
		peers = append(peers, p)
	}
	e.mu.Unlock()

	out := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		p.mu.Lock()
		out = append(out, p.info())
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) emit(info PeerInfo) {
	ev := PeerEvent{PeerID: info.ID, State: info.State, Muted: info.Muted, Err: info.Err}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *Engine) send(ctx context.Context, kind models.EnvelopeType, to int, data models.Payload) error {
	return e.transport.Publish(ctx, models.Envelope{
		Type:      kind,
		From:      e.selfID,
		To:        to,
		SessionID: e.sessionID,
		Data:      data,
	})
}

// peerFor returns the entry for id, creating it, while audio is joined.
func (e *Engine) peerFor(id int) (*peer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.joined {
		return nil, false
	}
	p, ok := e.peers[id]
	if !ok {
		p = &peer{id: id}
		e.peers[id] = p
	}
	return p, true
}

func (e *Engine) existingPeer(id int) *peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peers[id]
}

// owns reports whether p still belongs to the joined mesh. Callers hold p.mu.
func (e *Engine) owns(p *peer) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.joined && e.peers[p.id] == p
}

func (e *Engine) localTrack() (webrtc.TrackLocal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.joined || e.audio == nil {
		return nil, false
	}
	return e.audio.Track(), true
}

// openLocked installs a fresh connection on p. On error the returned
// connection, if any, must still be closed.
func (e *Engine) openLocked(p *peer) (PeerConnection, error) {
	track, ok := e.localTrack()
	if !ok {
		return nil, models.ErrNoMicrophoneAvailable
	}
	pc, err := e.factory.NewPeerConnection(p.id)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return pc, fmt.Errorf("add track: %w", err)
	}
	if sender != nil {
		go drainRTCP(e.logf, p.id, sender)
	}

	p.gen++
	gen := p.gen
	p.pc = pc
	remoteID := p.id

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		err := e.send(context.Background(), models.EnvelopeICECandidate, remoteID, models.IceCandidatePayload{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
		if err != nil {
			e.logf("send candidate to %d: %v", remoteID, err)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.onConnectionState(p, gen, s)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.logf("remote track from %d codec=%s", remoteID, track.Codec().MimeType)
		if e.onTrack != nil {
			e.onTrack(remoteID, track)
		}
	})
	return pc, nil
}

// failLocked closes p with err and returns the connection to close.
func (e *Engine) failLocked(p *peer, err error) (PeerConnection, PeerInfo) {
	pc := p.detach()
	p.state = PeerClosed
	p.err = err
	p.pending = nil
	e.logf("peer %d closed: %v", p.id, err)
	return pc, p.info()
}

func (e *Engine) arm(p *peer) {
	gen := p.gen
	p.timer = time.AfterFunc(e.timeout, func() { e.negotiationExpired(p, gen) })
}

func (e *Engine) startOffer(ctx context.Context, id int) {
	p, ok := e.peerFor(id)
	if !ok {
		return
	}

	p.mu.Lock()
	if !e.owns(p) {
		p.mu.Unlock()
		return
	}
	old := p.detach()
	p.pending = nil
	p.err = nil

	pc, err := e.openLocked(p)
	var offer webrtc.SessionDescription
	if err == nil {
		offer, err = pc.CreateOffer(nil)
	}
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err == nil {
		err = e.send(ctx, models.EnvelopeOffer, id, models.OfferPayload{SDP: offer.SDP})
	}
	if err != nil {
		var orphan PeerConnection
		if p.pc != pc {
			orphan = pc
		}
		bad, info := e.failLocked(p, err)
		p.mu.Unlock()
		closeQuietly(old)
		closeQuietly(bad)
		closeQuietly(orphan)
		e.emit(info)
		return
	}

	p.state = PeerOffering
	e.arm(p)
	info := p.info()
	p.mu.Unlock()

	closeQuietly(old)
	e.logf("offer sent to %d", id)
	e.emit(info)
}

func (e *Engine) acceptOffer(ctx context.Context, id int, sdp string) {
	p, ok := e.peerFor(id)
	if !ok {
		return
	}

	p.mu.Lock()
	if !e.owns(p) {
		p.mu.Unlock()
		return
	}
	if p.state == PeerOffering {
		if e.selfID < id {
			p.mu.Unlock()
			e.logf("glare with %d, keeping own offer", id)
			return
		}
		e.logf("glare with %d, answering instead", id)
	}
	old := p.detach()
	p.err = nil

	pc, err := e.openLocked(p)
	if err == nil {
		err = pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	}
	if err == nil {
		p.remoteSet = true
		e.flushLocked(p)
	}
	var answer webrtc.SessionDescription
	if err == nil {
		answer, err = pc.CreateAnswer(nil)
	}
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	if err == nil {
		err = e.send(ctx, models.EnvelopeAnswer, id, models.AnswerPayload{SDP: answer.SDP})
	}
	if err != nil {
		var orphan PeerConnection
		if p.pc != pc {
			orphan = pc
		}
		bad, info := e.failLocked(p, err)
		p.mu.Unlock()
		closeQuietly(old)
		closeQuietly(bad)
		closeQuietly(orphan)
		e.emit(info)
		return
	}

	p.state = PeerAnswering
	e.arm(p)
	info := p.info()
	p.mu.Unlock()

	closeQuietly(old)
	e.logf("answer sent to %d", id)
	e.emit(info)
}

func (e *Engine) acceptAnswer(id int, sdp string) {
	p := e.existingPeer(id)
	if p == nil {
		return
	}

	p.mu.Lock()
	if p.state != PeerOffering || p.pc == nil {
		state := p.state
		p.mu.Unlock()
		e.logf("ignoring answer from %d in state %s", id, state)
		return
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		bad, info := e.failLocked(p, fmt.Errorf("set answer: %w", err))
		p.mu.Unlock()
		closeQuietly(bad)
		e.emit(info)
		return
	}
	p.remoteSet = true
	e.flushLocked(p)
	p.state = PeerConnected
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	info := p.info()
	p.mu.Unlock()

	e.logf("connected to %d", id)
	e.emit(info)
}

func (e *Engine) addCandidate(id int, candidate webrtc.ICECandidateInit) {
	p, ok := e.peerFor(id)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pc == nil || !p.remoteSet {
		p.pending = append(p.pending, candidate)
		return
	}
	if err := p.pc.AddICECandidate(candidate); err != nil {
		e.logf("add candidate from %d: %v", id, err)
	}
}

// flushLocked applies candidates that arrived before the remote description.
func (e *Engine) flushLocked(p *peer) {
	for _, c := range p.pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			e.logf("add buffered candidate from %d: %v", p.id, err)
		}
	}
	p.pending = nil
}

func (e *Engine) closePeer(id int, cause error) {
	p := e.existingPeer(id)
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.state == PeerClosed && p.pc == nil {
		p.mu.Unlock()
		return
	}
	pc := p.detach()
	p.state = PeerClosed
	p.err = cause
	p.pending = nil
	info := p.info()
	p.mu.Unlock()

	closeQuietly(pc)
	e.logf("peer %d left", id)
	e.emit(info)
}

func (e *Engine) setPeerMuted(id int, muted bool) {
	p, ok := e.peerFor(id)
	if !ok {
		return
	}
	p.mu.Lock()
	p.muted = muted
	info := p.info()
	p.mu.Unlock()
	e.emit(info)
}

func (e *Engine) onConnectionState(p *peer, gen int, s webrtc.PeerConnectionState) {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if !p.state.negotiating() {
			break
		}
		p.state = PeerConnected
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		info := p.info()
		p.mu.Unlock()
		e.logf("connected to %d", p.id)
		e.emit(info)
		return
	case webrtc.PeerConnectionStateFailed:
		if p.state == PeerClosed {
			break
		}
		bad, info := e.failLocked(p, ErrPeerFailed)
		p.mu.Unlock()
		closeQuietly(bad)
		e.emit(info)
		return
	}
	p.mu.Unlock()
}

func (e *Engine) negotiationExpired(p *peer, gen int) {
	p.mu.Lock()
	if p.gen != gen || !p.state.negotiating() {
		p.mu.Unlock()
		return
	}
	bad, info := e.failLocked(p, models.ErrNegotiationTimeout)
	p.mu.Unlock()
	closeQuietly(bad)
	e.emit(info)
}
