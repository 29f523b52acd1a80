// Package copilot – config.go defines all configuration structures
// for the Penny assistant.
package copilot

import (
	"time"

	"github.com/jholhewres/penny/pkg/penny/channels/console"
	"github.com/jholhewres/penny/pkg/penny/channels/discord"
)

// DefaultThreadName is the name given to threads created by /chat until the
// assistant renames them.
const DefaultThreadName = "pennythread"

// Config holds all assistant configuration.
type Config struct {
	// Persona describes who the assistant is in every prompt.
	Persona PersonaConfig `yaml:"persona"`

	// Timezone is the reference timezone for the date line of the preamble.
	Timezone string `yaml:"timezone"`

	// TimezoneLabel is how the timezone is spelled out in the preamble.
	TimezoneLabel string `yaml:"timezone_label"`

	// ThreadName is the default name of threads the assistant creates.
	// Threads still carrying it are renamed once the conversation is long enough.
	ThreadName string `yaml:"thread_name"`

	// HistoryLimit is the maximum number of messages in a transcript.
	HistoryLimit int `yaml:"history_limit"`

	// RenameAfterTurns is the transcript length (response included) past
	// which a default-named thread gets a generated name.
	RenameAfterTurns int `yaml:"rename_after_turns"`

	// API configures the generation service endpoint.
	API APIConfig `yaml:"api"`

	// Reply and Naming tune the two completion requests of a turn.
	Reply  GenerationParams `yaml:"reply"`
	Naming GenerationParams `yaml:"naming"`

	// Channels configures communication channels.
	Channels ChannelsConfig `yaml:"channels"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// PersonaConfig is the assistant's identity.
type PersonaConfig struct {
	// Name is the label the assistant speaks under.
	Name string `yaml:"name"`

	// Traits is the adjective list of the persona clause.
	Traits string `yaml:"traits"`

	// Pronoun is the possessive pronoun used for the greeting ("Her").
	Pronoun string `yaml:"pronoun"`

	// Greeting is the persona's favorite greeting.
	Greeting string `yaml:"greeting"`
}

// APIConfig configures the OpenAI-compatible endpoint.
type APIConfig struct {
	// BaseURL is the API base URL. Empty uses the SDK default.
	BaseURL string `yaml:"base_url"`

	// APIKey is the authentication key.
	// Can also be set via the OPENAI_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// Organization is the optional OpenAI organization ID.
	Organization string `yaml:"organization"`

	// Model is the text completion model.
	Model string `yaml:"model"`

	// ImageModel is the image generation model used by /imagine.
	ImageModel string `yaml:"image_model"`

	// ImageSize is the requested image size (e.g. "1024x1024").
	ImageSize string `yaml:"image_size"`

	// Timeout bounds every generation call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is handed to the SDK's own retry loop.
	MaxRetries int `yaml:"max_retries"`
}

// ChannelsConfig holds configuration for all channels.
type ChannelsConfig struct {
	// Discord is the Discord channel config.
	Discord discord.Config `yaml:"discord"`

	// Console is the local console channel config.
	Console console.Config `yaml:"console"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default assistant configuration.
func DefaultConfig() *Config {
	return &Config{
		Persona: PersonaConfig{
			Name:     "Penny",
			Traits:   "cutesy, cheerful, and helpful",
			Pronoun:  "Her",
			Greeting: "Salutations!",
		},
		Timezone:         "America/Los_Angeles",
		TimezoneLabel:    "Pacific Time",
		ThreadName:       DefaultThreadName,
		HistoryLimit:     8,
		RenameAfterTurns: 5,
		API: APIConfig{
			Model:      "gpt-3.5-turbo-instruct",
			ImageModel: "dall-e-2",
			ImageSize:  "1024x1024",
			Timeout:    60 * time.Second,
			MaxRetries: 2,
		},
		Reply:  DefaultReplyParams(),
		Naming: DefaultNamingParams(),
		Channels: ChannelsConfig{
			Discord: discord.DefaultConfig(),
			Console: console.DefaultConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// normalize fills zero values a partial YAML file may leave behind.
func (c *Config) normalize() {
	def := DefaultConfig()
	c.Persona.Name = sanitizeLabel(c.Persona.Name)
	if c.Persona.Name == "" {
		c.Persona = def.Persona
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
		c.TimezoneLabel = def.TimezoneLabel
	}
	if c.TimezoneLabel == "" {
		c.TimezoneLabel = c.Timezone
	}
	if c.ThreadName == "" {
		c.ThreadName = def.ThreadName
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.RenameAfterTurns <= 0 {
		c.RenameAfterTurns = def.RenameAfterTurns
	}
	if c.API.Model == "" {
		c.API.Model = def.API.Model
	}
	if c.API.ImageModel == "" {
		c.API.ImageModel = def.API.ImageModel
	}
	if c.API.ImageSize == "" {
		c.API.ImageSize = def.API.ImageSize
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = def.API.Timeout
	}
	if c.Reply.MaxTokens <= 0 {
		c.Reply = def.Reply
	}
	if c.Naming.MaxTokens <= 0 {
		c.Naming = def.Naming
	}
	c.Channels.Console.ThreadName = c.ThreadName
}
