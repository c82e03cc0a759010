package voice

import "errors"

// Config holds the tunable parameters for a remote voice session.
type Config struct {
	// APIKey authenticates against the remote endpoint.
	APIKey string

	// Model is the remote model identifier, e.g.
	// "models/gemini-2.0-flash-exp". A bare name is accepted and
	// prefixed with "models/" by the implementation.
	Model string

	// Voice selects the prebuilt voice for speech output.
	Voice string

	// SystemPrompt is the priming instruction, including the curated
	// device context. Sent once at session setup.
	SystemPrompt string

	// InputSampleRate is the PCM16 rate this pipeline expects on
	// SendAudio (16kHz for Gemini).
	InputSampleRate int

	// OutputSampleRate is the PCM16 rate of OnAudioOut audio
	// (24kHz for Gemini).
	OutputSampleRate int

	// Debug enables verbose wire logging.
	Debug bool
}

// DefaultConfig returns a Config with Gemini Live defaults.
func DefaultConfig() Config {
	return Config{
		Model:            "models/gemini-2.0-flash-exp",
		Voice:            "Puck",
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.InputSampleRate <= 0 || c.OutputSampleRate <= 0 {
		return errors.New("voice: sample rates must be positive")
	}
	return nil
}

// WithSystemPrompt returns a copy with the system prompt set.
func (c Config) WithSystemPrompt(prompt string) Config {
	c.SystemPrompt = prompt
	return c
}

// WithModel returns a copy with the model set.
func (c Config) WithModel(model string) Config {
	c.Model = model
	return c
}

// WithDebug returns a copy with debug enabled.
func (c Config) WithDebug(debug bool) Config {
	c.Debug = debug
	return c
}
