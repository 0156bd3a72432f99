package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voice-turn/internal/audio"
	"voice-turn/internal/usecase"
)

// Config represents the complete service configuration
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Params  ParamsConfig  `yaml:"params"`
	Speech  SpeechConfig  `yaml:"speech"`
	Chat    ChatConfig    `yaml:"chat"`
	Audio   AudioConfig   `yaml:"audio"`
	Assets  AssetsConfig  `yaml:"assets"`
	Turn    TurnConfig    `yaml:"turn"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig names the DynamoDB tables
type StorageConfig struct {
	MessagesTable string `yaml:"messages_table"`
	PromptsTable  string `yaml:"prompts_table"`
	Endpoint      string `yaml:"endpoint"` // DynamoDB Local
}

// ParamsConfig locates the API keys. A non-empty static key is used as-is
// instead of reading Parameter Store.
type ParamsConfig struct {
	Prefix        string `yaml:"prefix"`
	SpeechKeyName string `yaml:"speech_key_name"`
	ChatTokenName string `yaml:"chat_token_name"`
	SpeechKey     string `yaml:"speech_key"`
	ChatToken     string `yaml:"chat_token"`
}

// SpeechConfig contains the Azure Speech settings
type SpeechConfig struct {
	Region      string `yaml:"region"`
	Language    string `yaml:"language"`
	Voice       string `yaml:"voice"`
	ProsodyRate string `yaml:"prosody_rate"`
	STTEndpoint string `yaml:"stt_endpoint"`
	TTSEndpoint string `yaml:"tts_endpoint"`
	Timeout     int    `yaml:"timeout"` // seconds
}

// ChatConfig contains the chat completions settings
type ChatConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	Timeout   int    `yaml:"timeout"` // seconds
}

// AudioConfig contains input and output audio parameters
type AudioConfig struct {
	InputSampleRate  int     `yaml:"input_sample_rate"`
	ShortThreshold   float64 `yaml:"short_threshold"` // seconds
	AmplifyFactor    float64 `yaml:"amplify_factor"`
	OutputSampleRate int     `yaml:"output_sample_rate"`
	TrimSilence      bool    `yaml:"trim_silence"`
	SilenceThreshold int     `yaml:"silence_threshold"`
}

// AssetsConfig locates the pre-recorded clips
type AssetsConfig struct {
	Dir      string `yaml:"dir"`
	Fallback string `yaml:"fallback"`
}

// TurnConfig holds the defaults used when a user has no override
type TurnConfig struct {
	DefaultPrompt      string `yaml:"default_prompt"`
	FallbackReply      string `yaml:"fallback_reply"`
	ActiveMessageLimit int    `yaml:"active_message_limit"`
	DailyRateLimit     int    `yaml:"daily_rate_limit"`
}

// HTTPConfig contains the local HTTP server configuration
type HTTPConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file or variable overrides it
func Default() Config {
	turn := usecase.DefaultSettings()
	return Config{
		Storage: StorageConfig{
			MessagesTable: "UserMessages",
			PromptsTable:  "UserPrompts",
		},
		Speech: SpeechConfig{
			Language:    "th-TH",
			Voice:       "th-TH-PremwadeeNeural",
			ProsodyRate: "-30%",
			Timeout:     15,
		},
		Chat: ChatConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini-2024-07-18",
			MaxTokens: 150,
			Timeout:   15,
		},
		Audio: AudioConfig{
			InputSampleRate:  turn.InputFormat.SampleRate,
			ShortThreshold:   turn.ShortThreshold,
			AmplifyFactor:    turn.AmplifyFactor,
			OutputSampleRate: 24000,
			SilenceThreshold: turn.SilenceThreshold,
		},
		Assets: AssetsConfig{
			Dir:      "assets",
			Fallback: turn.FallbackAsset,
		},
		Turn: TurnConfig{
			DefaultPrompt:      turn.DefaultPrompt,
			FallbackReply:      turn.FallbackReply,
			ActiveMessageLimit: turn.ActiveMessageLimit,
			DailyRateLimit:     turn.DailyRateLimit,
		},
		HTTP:    HTTPConfig{Address: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the optional configuration file on top of the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv() error {
	envString("DYNAMODB_MESSAGES_TABLE", &c.Storage.MessagesTable)
	envString("DYNAMODB_PROMPTS_TABLE", &c.Storage.PromptsTable)
	envString("DYNAMODB_ENDPOINT_URL", &c.Storage.Endpoint)

	envString("PARAM_PREFIX", &c.Params.Prefix)
	envString("AZURE_API_KEY", &c.Params.SpeechKey)
	envString("CHAT_API_KEY", &c.Params.ChatToken)

	envString("AZURE_REGION", &c.Speech.Region)
	envString("AZURE_LANGUAGE", &c.Speech.Language)
	envString("AZURE_VOICE", &c.Speech.Voice)

	envString("CHAT_BASE_URL", &c.Chat.BaseURL)
	envString("CHAT_MODEL", &c.Chat.Model)

	envString("ASSET_DIR", &c.Assets.Dir)
	envString("HTTP_ADDRESS", &c.HTTP.Address)
	envString("LOG_LEVEL", &c.Logging.Level)

	if err := envInt("CHAT_MAX_TOKENS", &c.Chat.MaxTokens); err != nil {
		return err
	}
	if err := envInt("ACTIVE_MESSAGE_LIMIT", &c.Turn.ActiveMessageLimit); err != nil {
		return err
	}
	if err := envInt("DAILY_RATE_LIMIT", &c.Turn.DailyRateLimit); err != nil {
		return err
	}
	return envBool("TRIM_SILENCE", &c.Audio.TrimSilence)
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("environment variable %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("environment variable %s: %w", key, err)
	}
	*dst = b
	return nil
}

// Validate performs validation of the whole configuration
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("params config: %w", err)
	}
	if err := c.Speech.Validate(); err != nil {
		return fmt.Errorf("speech config: %w", err)
	}
	if err := c.Chat.Validate(); err != nil {
		return fmt.Errorf("chat config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Assets.Validate(); err != nil {
		return fmt.Errorf("assets config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.MessagesTable == "" {
		return fmt.Errorf("messages_table cannot be empty")
	}
	if s.PromptsTable == "" {
		return fmt.Errorf("prompts_table cannot be empty")
	}
	return nil
}

// Validate requires a parameter prefix unless both keys are given statically
func (p *ParamsConfig) Validate() error {
	if p.SpeechKey != "" && p.ChatToken != "" {
		return nil
	}
	if strings.TrimRight(p.Prefix, "/") == "" {
		return fmt.Errorf("prefix cannot be empty when api keys are read from parameter store")
	}
	return nil
}

// SpeechKeyParam returns the Parameter Store name of the Azure Speech key
func (p *ParamsConfig) SpeechKeyParam() string {
	return p.param(p.SpeechKeyName, "azure-speech-key")
}

// ChatTokenParam returns the Parameter Store name of the chat API token
func (p *ParamsConfig) ChatTokenParam() string {
	return p.param(p.ChatTokenName, "chat-api-token")
}

func (p *ParamsConfig) param(name, def string) string {
	if name == "" {
		name = def
	}
	if strings.HasPrefix(name, "/") {
		return name
	}
	return strings.TrimRight(p.Prefix, "/") + "/" + name
}

// Validate validates speech configuration
func (s *SpeechConfig) Validate() error {
	if s.Region == "" && (s.STTEndpoint == "" || s.TTSEndpoint == "") {
		return fmt.Errorf("region cannot be empty unless both endpoints are set")
	}
	if s.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}
	if s.Voice == "" {
		return fmt.Errorf("voice cannot be empty")
	}
	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}
	return nil
}

// GetTimeoutDuration returns the speech timeout as a time.Duration
func (s *SpeechConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// Validate validates chat configuration
func (c *ChatConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	if c.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", c.MaxTokens)
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", c.Timeout)
	}
	return nil
}

// GetTimeoutDuration returns the chat timeout as a time.Duration
func (c *ChatConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if err := audio.Mono16(a.InputSampleRate).Validate(); err != nil {
		return fmt.Errorf("input_sample_rate: %w", err)
	}
	if a.ShortThreshold < 0 {
		return fmt.Errorf("short_threshold cannot be negative, got %f", a.ShortThreshold)
	}
	if a.AmplifyFactor <= 0 {
		return fmt.Errorf("amplify_factor must be positive, got %f", a.AmplifyFactor)
	}
	if a.OutputSampleRate <= 0 {
		return fmt.Errorf("output_sample_rate must be positive, got %d", a.OutputSampleRate)
	}
	if a.SilenceThreshold < 0 || a.SilenceThreshold > 32767 {
		return fmt.Errorf("silence_threshold must be between 0 and 32767, got %d", a.SilenceThreshold)
	}
	return nil
}

// Validate validates assets configuration
func (a *AssetsConfig) Validate() error {
	if a.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}
	if a.Fallback == "" {
		return fmt.Errorf("fallback cannot be empty")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}

// SlogLevel returns the configured level for log/slog
func (l *LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// TurnSettings converts the configuration into the turn pipeline settings
func (c *Config) TurnSettings() usecase.Settings {
	return usecase.Settings{
		ChatModel:          c.Chat.Model,
		DefaultPrompt:      c.Turn.DefaultPrompt,
		FallbackReply:      c.Turn.FallbackReply,
		FallbackAsset:      c.Assets.Fallback,
		InputFormat:        audio.Mono16(c.Audio.InputSampleRate),
		ShortThreshold:     c.Audio.ShortThreshold,
		AmplifyFactor:      c.Audio.AmplifyFactor,
		TrimSilence:        c.Audio.TrimSilence,
		SilenceThreshold:   c.Audio.SilenceThreshold,
		ActiveMessageLimit: c.Turn.ActiveMessageLimit,
		DailyRateLimit:     c.Turn.DailyRateLimit,
	}
}
