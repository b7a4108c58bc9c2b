package rtc

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPionFactoryOffersOpus(t *testing.T) {
	factory, err := NewPionFactory(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultICEServers, factory.config.ICEServers[0].URLs)

	pc, err := factory.NewPeerConnection(2)
	require.NoError(t, err)
	defer pc.Close()

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	require.NoError(t, err)
	_, err = pc.AddTrack(track)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "opus/48000")
}
