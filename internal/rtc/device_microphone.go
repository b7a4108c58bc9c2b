//go:build mediadevices

package rtc

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"

	"session-chat-service/internal/models"
)

// DeviceMicrophone captures the default system microphone and encodes Opus.
type DeviceMicrophone struct{}

func (DeviceMicrophone) Open(ctx context.Context) (LocalAudio, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	selector := mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams))

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(*mediadevices.MediaTrackConstraints) {},
		Codec: selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrNoMicrophoneAvailable, err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, models.ErrNoMicrophoneAvailable
	}
	track, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		_ = tracks[0].Close()
		return nil, models.ErrNoMicrophoneAvailable
	}
	d := &deviceAudio{track: track}
	// Transforms apply to readers created afterwards, so this must run
	// before the track is added to a peer connection.
	track.Transform(d.gate)
	return d, nil
}

type deviceAudio struct {
	track *mediadevices.AudioTrack
	muted atomic.Bool
}

func (d *deviceAudio) Track() webrtc.TrackLocal { return d.track }

// SetMuted replaces captured samples with silence while muted.
func (d *deviceAudio) SetMuted(muted bool) { d.muted.Store(muted) }

func (d *deviceAudio) gate(r audio.Reader) audio.Reader {
	return audio.ReaderFunc(func() (wave.Audio, func(), error) {
		chunk, release, err := r.Read()
		if err == nil && d.muted.Load() {
			silence(chunk)
		}
		return chunk, release, err
	})
}

func silence(chunk wave.Audio) {
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		clear(c.Data)
	case *wave.Float32Interleaved:
		clear(c.Data)
	case *wave.Int16NonInterleaved:
		for _, ch := range c.Data {
			clear(ch)
		}
	case *wave.Float32NonInterleaved:
		for _, ch := range c.Data {
			clear(ch)
		}
	}
}

func (d *deviceAudio) Close() error { return d.track.Close() }
