package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"session-chat-service/internal/rtc"
)

// ClientConfig is the [audio-client] section of the client TOML file.
type ClientConfig struct {
	ServerURL          string   `toml:"server_url"`
	Token              string   `toml:"token"`
	UserID             int      `toml:"user_id"`
	SessionID          int      `toml:"session_id"`
	ICEServers         []string `toml:"ice_servers"`
	AudioFile          string   `toml:"audio_file"`
	Loop               bool     `toml:"loop"`
	StartMuted         bool     `toml:"start_muted"`
	NegotiationTimeout string   `toml:"negotiation_timeout"`
	RecordDir          string   `toml:"record_dir"`
}

type tomlFile struct {
	Client ClientConfig `toml:"audio-client"`
}

func loadConfig(path string) (*ClientConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var file tomlFile
	if err := toml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg := &file.Client
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8083"
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = rtc.DefaultICEServers
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ClientConfig) validate() error {
	switch {
	case c.Token == "":
		return errors.New("token is required")
	case c.UserID <= 0:
		return errors.New("user_id is required")
	case c.SessionID <= 0:
		return errors.New("session_id is required")
	case c.AudioFile == "":
		return errors.New("audio_file is required")
	}
	if _, err := c.timeout(); err != nil {
		return err
	}
	return nil
}

func (c *ClientConfig) timeout() (time.Duration, error) {
	if c.NegotiationTimeout == "" {
		return rtc.DefaultNegotiationTimeout, nil
	}
	d, err := time.ParseDuration(c.NegotiationTimeout)
	if err != nil {
		return 0, fmt.Errorf("negotiation_timeout: %w", err)
	}
	return d, nil
}
