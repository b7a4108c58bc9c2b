package main

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// recordTrack writes a remote Opus track to <dir>/peer-<id>-<unix>.ogg until
// the track ends.
func recordTrack(dir string, peerID int, track *webrtc.TrackRemote) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("peer-%d-%d.ogg", peerID, time.Now().Unix()))
	codec := track.Codec()
	writer, err := oggwriter.New(path, codec.ClockRate, codec.Channels)
	if err != nil {
		log.Printf("record peer=%d: %v", peerID, err)
		return
	}
	defer writer.Close()

	log.Printf("recording peer=%d to %s", peerID, path)
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if err := writer.WriteRTP(packet); err != nil {
			log.Printf("record peer=%d write: %v", peerID, err)
			return
		}
	}
}
