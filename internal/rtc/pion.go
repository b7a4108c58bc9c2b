package rtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// DefaultICEServers is used when no ICE servers are configured.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

// ICE timeouts: a short relay outage should not end a call.
const (
	iceDisconnectedTimeout = 10 * time.Second
	iceFailedTimeout       = 30 * time.Second
	iceKeepaliveInterval   = 2 * time.Second
)

// PionFactory builds pion peer connections sharing one API instance.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

var _ PeerFactory = (*PionFactory)(nil)

// NewPionFactory registers the default codecs and interceptors and applies
// the ICE timeouts. iceServers are STUN/TURN URLs.
func NewPionFactory(iceServers []string) (*PionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	if len(iceServers) == 0 {
		iceServers = DefaultICEServers
	}
	return &PionFactory{
		api:    api,
		config: webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: iceServers}}},
	}, nil
}

func (f *PionFactory) NewPeerConnection(remoteID int) (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("peer %d: %w", remoteID, err)
	}
	return pc, nil
}
