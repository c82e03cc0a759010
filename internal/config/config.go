// Package config loads gateway settings from the environment and an
// optional config file via viper. All settings are read once at startup;
// there is no hot reload.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Defaults for the gateway.
const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 10700
	DefaultStatusPort       = 8080
	DefaultModel            = "models/gemini-2.0-flash-exp"
	DefaultVoice            = "Puck"
	DefaultHassURL          = "http://homeassistant.local:8123"
	DefaultInputRate        = 16000
	DefaultOutputRate       = 16000
	DefaultRemoteOutputRate = 24000
	DefaultSilenceTailMS    = 600
	DefaultDrainDeadlineMS  = 5000
	DefaultMaxEntities      = 200
)

// DefaultAllowedDomains are the Home Assistant domains exposed when the
// operator does not configure an explicit allowlist.
var DefaultAllowedDomains = []string{
	"light", "switch", "cover", "climate", "lock", "scene", "script",
}

// Settings holds all gateway configuration.
type Settings struct {
	// Network
	Host       string
	Port       int
	StatusPort int

	// Gemini
	APIKey string
	Model  string
	Voice  string

	// Home Assistant
	HassURL   string
	HassToken string

	// Context / tools policy
	AllowedDomains     []string
	EntityAllowlist    []string
	EntityBlocklist    []string
	MaxContextEntities int

	// Audio
	InputSampleRate  int // local leg, PCM16 mono
	OutputSampleRate int // local leg, PCM16 mono
	RemoteOutputRate int // Gemini emits 24kHz PCM16 mono

	// Streaming behavior
	SilenceTailMS   int // silence injected after audio-stop to close the turn
	DrainDeadlineMS int // hard bound on the draining state

	// Logging
	LogLevel string
}

// Load reads settings from the given viper instance. Pass viper.New()
// with env binding already applied, or nil for a fresh instance.
func Load(v *viper.Viper) (Settings, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetEnvPrefix("HEARTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("host", DefaultHost)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("status_port", DefaultStatusPort)
	v.SetDefault("model", DefaultModel)
	v.SetDefault("voice", DefaultVoice)
	v.SetDefault("hass_url", DefaultHassURL)
	v.SetDefault("allowed_domains", DefaultAllowedDomains)
	v.SetDefault("max_context_entities", DefaultMaxEntities)
	v.SetDefault("input_sample_rate", DefaultInputRate)
	v.SetDefault("output_sample_rate", DefaultOutputRate)
	v.SetDefault("remote_output_rate", DefaultRemoteOutputRate)
	v.SetDefault("silence_tail_ms", DefaultSilenceTailMS)
	v.SetDefault("drain_deadline_ms", DefaultDrainDeadlineMS)
	v.SetDefault("log_level", "info")

	s := Settings{
		Host:               v.GetString("host"),
		Port:               v.GetInt("port"),
		StatusPort:         v.GetInt("status_port"),
		APIKey:             v.GetString("api_key"),
		Model:              v.GetString("model"),
		Voice:              v.GetString("voice"),
		HassURL:            strings.TrimRight(v.GetString("hass_url"), "/"),
		HassToken:          v.GetString("hass_token"),
		AllowedDomains:     splitOrSlice(v, "allowed_domains"),
		EntityAllowlist:    splitOrSlice(v, "entity_allowlist"),
		EntityBlocklist:    splitOrSlice(v, "entity_blocklist"),
		MaxContextEntities: v.GetInt("max_context_entities"),
		InputSampleRate:    v.GetInt("input_sample_rate"),
		OutputSampleRate:   v.GetInt("output_sample_rate"),
		RemoteOutputRate:   v.GetInt("remote_output_rate"),
		SilenceTailMS:      v.GetInt("silence_tail_ms"),
		DrainDeadlineMS:    v.GetInt("drain_deadline_ms"),
		LogLevel:           v.GetString("log_level"),
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the settings for errors.
func (s *Settings) Validate() error {
	if s.APIKey == "" {
		return errors.New("config: api_key is required (HEARTH_API_KEY)")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", s.Port)
	}
	if s.InputSampleRate <= 0 || s.OutputSampleRate <= 0 {
		return errors.New("config: sample rates must be positive")
	}
	if s.MaxContextEntities < 0 {
		return errors.New("config: max_context_entities must not be negative")
	}
	return nil
}

// ListenAddr returns the host:port the Wyoming listener binds to.
func (s *Settings) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// splitOrSlice reads a key that may be a list (config file) or a
// comma-separated string (environment variable).
func splitOrSlice(v *viper.Viper, key string) []string {
	vals := v.GetStringSlice(key)
	if len(vals) == 1 && strings.Contains(vals[0], ",") {
		vals = strings.Split(vals[0], ",")
	}
	out := make([]string, 0, len(vals))
	for _, s := range vals {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
