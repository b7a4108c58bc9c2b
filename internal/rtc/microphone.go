package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"session-chat-service/internal/models"
)

// Microphone opens the local audio source.
type Microphone interface {
	Open(ctx context.Context) (LocalAudio, error)
}

// LocalAudio is an open audio source shared by every peer connection.
type LocalAudio interface {
	Track() webrtc.TrackLocal
	SetMuted(muted bool)
	Close() error
}

const (
	opusSampleRate  = 48000
	oggPageDuration = 20 * time.Millisecond
)

// OggMicrophone streams an Ogg/Opus file as if it were a live microphone.
type OggMicrophone struct {
	Path string
	// Loop restarts the file at EOF instead of going silent.
	Loop bool
	// StreamID labels the outgoing track.
	StreamID string
}

// Open validates the file and starts pacing pages into a sample track.
func (m OggMicrophone) Open(ctx context.Context) (LocalAudio, error) {
	file, err := os.Open(m.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", models.ErrNoMicrophoneAvailable, m.Path)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", models.ErrPermissionDenied, m.Path)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", models.ErrNoMicrophoneAvailable, err)
	}

	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %s is not ogg/opus: %v", models.ErrNoMicrophoneAvailable, m.Path, err)
	}

	streamID := m.StreamID
	if streamID == "" {
		streamID = "session-audio"
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	a := &oggAudio{track: track, file: file, reader: reader, loop: m.Loop, done: make(chan struct{})}
	a.wg.Add(1)
	go a.pace()
	return a, nil
}

type oggAudio struct {
	track  *webrtc.TrackLocalStaticSample
	file   *os.File
	reader *oggreader.OggReader
	loop   bool
	muted  atomic.Bool

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (a *oggAudio) Track() webrtc.TrackLocal { return a.track }

func (a *oggAudio) SetMuted(muted bool) { a.muted.Store(muted) }

// Close stops pacing and releases the file before returning.
func (a *oggAudio) Close() error {
	var err error
	a.once.Do(func() {
		close(a.done)
		a.wg.Wait()
		err = a.file.Close()
	})
	return err
}

func (a *oggAudio) pace() {
	defer a.wg.Done()
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
		}

		page, header, err := a.reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if !a.loop || !a.rewind() {
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			log.Printf("RTC ogg read failed: %v", err)
			return
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		if a.muted.Load() {
			continue
		}
		duration := time.Duration(float64(samples) / opusSampleRate * float64(time.Second))
		if err := a.track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			log.Printf("RTC ogg write failed: %v", err)
		}
	}
}

func (a *oggAudio) rewind() bool {
	if _, err := a.file.Seek(0, io.SeekStart); err != nil {
		log.Printf("RTC ogg rewind failed: %v", err)
		return false
	}
	reader, _, err := oggreader.NewWith(a.file)
	if err != nil {
		log.Printf("RTC ogg reopen failed: %v", err)
		return false
	}
	a.reader = reader
	return true
}
