// Package config loads the console configuration from a YAML file, then applies SAIGE_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MegaGrindStone/saige-web-ui/internal/services"
	"github.com/MegaGrindStone/saige-web-ui/internal/session"
	"github.com/MegaGrindStone/saige-web-ui/internal/stream"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the configuration shared by the web and terminal consoles.
type Config struct {
	Port           string    `yaml:"port" env:"PORT"`
	BackendURL     string    `yaml:"backendURL" env:"BACKEND_URL"`
	SystemPrompt   string    `yaml:"systemPrompt" env:"SYSTEM_PROMPT"`
	Decoding       string    `yaml:"decoding" env:"DECODING"`
	ChunkSize      int       `yaml:"chunkSize" env:"CHUNK_SIZE"`
	HighlightStyle string    `yaml:"highlightStyle" env:"HIGHLIGHT_STYLE"`
	TerminalStyle  string    `yaml:"terminalStyle" env:"TERMINAL_STYLE"`
	Log            LogConfig `yaml:"log" envPrefix:"LOG_"`

	// chat is unexported so that env leaves the provider-specific section alone.
	chat chatConfig
}

// LogConfig selects the level, format and destination of the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	File   string `yaml:"file" env:"FILE"`
}

type chatConfig interface {
	chatStreamer(backend services.SAIGE, systemPrompt string, logger *slog.Logger) (session.ChatStreamer, error)
}

// BaseChatConfig contains the common fields for all chat provider configurations.
type BaseChatConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type saigeChatConfig struct {
	BaseChatConfig `yaml:",inline"`
}

type llamaServerConfig struct {
	BaseChatConfig `yaml:",inline"`
	BaseURL        string                 `yaml:"baseURL"`
	APIKey         string                 `yaml:"apiKey"`
	Parameters     services.LLMParameters `yaml:"parameters"`
}

type ollamaConfig struct {
	BaseChatConfig `yaml:",inline"`
	Host           string                 `yaml:"host"`
	Parameters     services.LLMParameters `yaml:"parameters"`
}

const (
	envPrefix = "SAIGE_"

	defaultPort       = "8000"
	defaultBackendURL = "http://localhost:5000"

	defaultLlamaServerURL   = "http://localhost:8080/v1"
	defaultLlamaServerModel = "phi-3-mini"
	defaultMaxTokens        = 512
	defaultTemperature      = 0.85

	defaultOllamaHost = "http://localhost:11434"
)

// Default returns the configuration used when no file is present: the SAIGE backend on
// localhost:5000 streams the replies.
func Default() Config {
	return Config{
		Port:           defaultPort,
		BackendURL:     defaultBackendURL,
		Decoding:       string(stream.DecodeStrict),
		ChunkSize:      stream.DefaultChunkSize,
		HighlightStyle: services.DefaultHighlightStyle,
		TerminalStyle:  "auto",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		chat: &saigeChatConfig{BaseChatConfig{Provider: "saige"}},
	}
}

// DefaultPath returns the config file location under the user config directory.
func DefaultPath() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "saige", "config.yaml"), nil
}

// Load reads the YAML file at path over the defaults, then applies environment overrides. A missing
// file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("error parsing environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// UnmarshalYAML decodes the configuration over the receiver's current values, picking the chat
// provider section type from its "provider" field.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port           *string        `yaml:"port"`
		BackendURL     *string        `yaml:"backendURL"`
		SystemPrompt   *string        `yaml:"systemPrompt"`
		Decoding       *string        `yaml:"decoding"`
		ChunkSize      *int           `yaml:"chunkSize"`
		HighlightStyle *string        `yaml:"highlightStyle"`
		TerminalStyle  *string        `yaml:"terminalStyle"`
		Log            *LogConfig     `yaml:"log"`
		Chat           map[string]any `yaml:"chat"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	setIfPresent(&c.Port, rawConfig.Port)
	setIfPresent(&c.BackendURL, rawConfig.BackendURL)
	setIfPresent(&c.SystemPrompt, rawConfig.SystemPrompt)
	setIfPresent(&c.Decoding, rawConfig.Decoding)
	setIfPresent(&c.ChunkSize, rawConfig.ChunkSize)
	setIfPresent(&c.HighlightStyle, rawConfig.HighlightStyle)
	setIfPresent(&c.TerminalStyle, rawConfig.TerminalStyle)
	if rawConfig.Log != nil {
		if rawConfig.Log.Level != "" {
			c.Log.Level = rawConfig.Log.Level
		}
		if rawConfig.Log.Format != "" {
			c.Log.Format = rawConfig.Log.Format
		}
		c.Log.File = rawConfig.Log.File
	}

	if rawConfig.Chat == nil {
		return nil
	}

	provider, ok := rawConfig.Chat["provider"].(string)
	if !ok {
		return fmt.Errorf("chat provider is required")
	}

	chatRawYAML, err := yaml.Marshal(rawConfig.Chat)
	if err != nil {
		return err
	}

	var chat chatConfig
	switch provider {
	case "saige":
		chat = &saigeChatConfig{}
	case "llamaserver", "openai":
		chat = &llamaServerConfig{}
	case "ollama":
		chat = &ollamaConfig{}
	default:
		return fmt.Errorf("unknown chat provider: %s", provider)
	}

	if err := yaml.Unmarshal(chatRawYAML, chat); err != nil {
		return err
	}

	c.chat = chat
	return nil
}

// ChatProvider returns the name of the configured chat provider.
func (c Config) ChatProvider() string {
	switch chat := c.chat.(type) {
	case *saigeChatConfig:
		return chat.Provider
	case *llamaServerConfig:
		return chat.Provider
	case *ollamaConfig:
		return chat.Provider
	default:
		return ""
	}
}

// ChatStreamer builds the streamer of assistant replies for the configured provider. The SAIGE
// provider streams through backend itself.
func (c Config) ChatStreamer(backend services.SAIGE, logger *slog.Logger) (session.ChatStreamer, error) {
	return c.chat.chatStreamer(backend, c.SystemPrompt, logger)
}

// RendererOptions returns the stream renderer options selected by the configuration.
func (c Config) RendererOptions() []stream.RendererOption {
	mode, _ := stream.ParseDecodeMode(c.Decoding)
	return []stream.RendererOption{
		stream.WithDecodeMode(mode),
		stream.WithChunkSize(c.ChunkSize),
	}
}

// NewLogger builds the structured logger described by the configuration, writing to w unless a log
// file is configured. The returned close function releases the log file, if any.
func (c Config) NewLogger(w io.Writer) (*slog.Logger, func() error, error) {
	closeFn := func() error { return nil }
	if c.Log.File != "" {
		f, err := os.OpenFile(c.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening log file: %w", err)
		}
		w = f
		closeFn = f.Close
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format: %s", c.Log.Format)
	}

	return slog.New(handler), closeFn, nil
}

func (c Config) validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backendURL is required")
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunkSize must not be negative, got %d", c.ChunkSize)
	}
	if _, err := stream.ParseDecodeMode(c.Decoding); err != nil {
		return err
	}
	if c.chat == nil {
		return fmt.Errorf("chat provider is required")
	}
	return nil
}

func setIfPresent[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (s saigeChatConfig) chatStreamer(backend services.SAIGE, _ string, _ *slog.Logger) (session.ChatStreamer, error) {
	return backend, nil
}

func (l llamaServerConfig) chatStreamer(
	_ services.SAIGE,
	systemPrompt string,
	logger *slog.Logger,
) (session.ChatStreamer, error) {
	baseURL := l.BaseURL
	if baseURL == "" {
		baseURL = defaultLlamaServerURL
	}
	model := l.Model
	if model == "" {
		model = defaultLlamaServerModel
	}
	apiKey := l.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	params := l.Parameters
	if params.MaxTokens == nil {
		maxTokens := defaultMaxTokens
		params.MaxTokens = &maxTokens
	}
	if params.Temperature == nil {
		temperature := float32(defaultTemperature)
		params.Temperature = &temperature
	}

	return services.NewLlamaServer(baseURL, apiKey, model, systemPrompt, params, logger), nil
}

func (o ollamaConfig) chatStreamer(_ services.SAIGE, systemPrompt string, logger *slog.Logger) (session.ChatStreamer, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	return services.NewOllama(host, o.Model, systemPrompt, o.Parameters, logger)
}
