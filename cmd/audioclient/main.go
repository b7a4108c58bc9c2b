// Command audioclient joins the audio mesh of a chat session, streaming an
// Ogg/Opus file as its microphone.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"session-chat-service/internal/rtc"
	"session-chat-service/internal/signaling"
)

func main() {
	configPath := flag.String("config", "client.toml", "path to the client TOML config")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	timeout, _ := cfg.timeout()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := joinSession(ctx, cfg); err != nil {
		log.Fatalf("join session %d: %v", cfg.SessionID, err)
	}

	factory, err := rtc.NewPionFactory(cfg.ICEServers)
	if err != nil {
		log.Fatalf("webrtc: %v", err)
	}
	transport := signaling.NewWSClient(cfg.ServerURL, cfg.Token, cfg.UserID)

	opts := []rtc.Option{rtc.WithNegotiationTimeout(timeout)}
	if cfg.RecordDir != "" {
		opts = append(opts, rtc.WithRemoteTrackHandler(func(peerID int, track *webrtc.TrackRemote) {
			go recordTrack(cfg.RecordDir, peerID, track)
		}))
	}
	mic := rtc.OggMicrophone{Path: cfg.AudioFile, Loop: cfg.Loop, StreamID: fmt.Sprintf("user-%d", cfg.UserID)}
	engine := rtc.New(cfg.UserID, cfg.SessionID, transport, factory, mic, opts...)

	events, cancelEvents := engine.Subscribe()
	defer cancelEvents()
	go func() {
		for ev := range events {
			if ev.Err != nil {
				log.Printf("peer %d %s: %v", ev.PeerID, ev.State, ev.Err)
				continue
			}
			log.Printf("peer %d %s muted=%t", ev.PeerID, ev.State, ev.Muted)
		}
	}()

	// The signaling feed outlives ctx so the final leave can still be sent.
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(runCtx) }()

	if cfg.StartMuted {
		_ = engine.SetMuted(ctx, true)
	}
	if err := engine.JoinAudio(ctx); err != nil {
		log.Fatalf("join audio: %v", err)
	}

	select {
	case <-ctx.Done():
	case err := <-runErr:
		log.Printf("signaling ended: %v", err)
	}

	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.LeaveAudio(leaveCtx); err != nil {
		log.Printf("leave audio: %v", err)
	}
	// Close writes the queued leave before the socket goes away.
	if err := transport.Close(); err != nil {
		log.Printf("signaling close: %v", err)
	}
}

// joinSession makes the caller a member; joining again is a no-op server side.
func joinSession(ctx context.Context, cfg *ClientConfig) error {
	url := fmt.Sprintf("%s/sessions/%d/join", cfg.ServerURL, cfg.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
