package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envConfigPath        = "WAKIT_CONFIG"
	envWhatsAppAPIKey    = "WHATSAPP_API_KEY"
	envWhatsAppInstance  = "WHATSAPP_INSTANCE"
	envWhatsAppServerURL = "WHATSAPP_SERVER_URL"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramChatID    = "TELEGRAM_CHAT_ID"
	envAMQPURL           = "AMQP_URL"

	defaultInstance         = "main"
	defaultServerURL        = "http://host.docker.internal:8080"
	defaultRequestTimeout   = 30
	defaultRetryCount       = 2
	defaultWebhookHost      = "0.0.0.0"
	defaultWebhookPort      = 8000
	defaultDispatchTimeout  = 20
	defaultMaxBodyBytes     = 5 << 20
	defaultConcurrency      = 4
	defaultTranscribeModel  = "whisper-1"
	defaultTranscribeKeyEnv = "OPENAI_API_KEY"
	defaultRosterTTL        = 3600
	defaultRosterSize       = 64
	defaultAMQPExchange     = "whatsapp.events"
	defaultPingTrigger      = "@bot"
	defaultPingReply        = "pong"
	defaultAudioDir         = "audios"
	defaultBugTag           = "#bug"
	defaultBugEmoji         = "🐛"

	// PolicyFromMe routes only messages sent by the controlled account.
	PolicyFromMe = "from_me"
	// PolicyAll routes messages regardless of who sent them.
	PolicyAll = "all"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Evolution     EvolutionConfig     `json:"evolution"`
	Webhook       WebhookConfig       `json:"webhook"`
	Handlers      HandlersConfig      `json:"handlers"`
	Transcription TranscriptionConfig `json:"transcription"`
	Notify        NotifyConfig        `json:"notify"`
	Forward       ForwardConfig       `json:"forward"`
	Roster        RosterConfig        `json:"roster"`
	Logging       LoggingConfig       `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// EvolutionConfig points the client at one Evolution API server and instance.
type EvolutionConfig struct {
	ServerURL             string `json:"server_url"`
	APIKey                string `json:"api_key"`
	Instance              string `json:"instance"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	RetryCount            int    `json:"retry_count"`
	AutoInitialize        bool   `json:"auto_initialize"`
}

// WebhookConfig configures the ingestion endpoint and the dispatcher.
type WebhookConfig struct {
	Host                   string `json:"host"`
	Port                   int    `json:"port"`
	DispatchTimeoutSeconds int    `json:"dispatch_timeout_seconds"`
	MaxBodyBytes           int64  `json:"max_body_bytes"`
	InboundPolicy          string `json:"inbound_policy"`
	Concurrent             bool   `json:"concurrent"`
	Concurrency            int    `json:"concurrency"`
}

// FromMeOnly reports whether message events from the counterparty are filtered out.
func (w WebhookConfig) FromMeOnly() bool {
	return !strings.EqualFold(strings.TrimSpace(w.InboundPolicy), PolicyAll)
}

// HandlersConfig toggles the bundled handler modules.
type HandlersConfig struct {
	Ping          PingConfig         `json:"ping"`
	AudioArchive  AudioArchiveConfig `json:"audio_archive"`
	Transcription ToggleConfig       `json:"transcription"`
	BugReport     BugReportConfig    `json:"bug_report"`
	Connection    ToggleConfig       `json:"connection"`
	Forward       ToggleConfig       `json:"forward"`
}

// ToggleConfig is the shared shape of handlers without extra settings.
type ToggleConfig struct {
	Enabled bool `json:"enabled"`
}

// PingConfig configures the trigger-word reply handler.
type PingConfig struct {
	Enabled bool   `json:"enabled"`
	Trigger string `json:"trigger"`
	Reply   string `json:"reply"`
}

// AudioArchiveConfig configures where inbound voice notes are saved.
type AudioArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir"`
}

// BugReportConfig configures bug intake from text tags and reactions.
type BugReportConfig struct {
	Enabled bool   `json:"enabled"`
	Tag     string `json:"tag"`
	Emoji   string `json:"emoji"`
}

// TranscriptionConfig configures the speech-to-text client.
type TranscriptionConfig struct {
	BaseURL               string `json:"base_url"`
	APIKeyEnv             string `json:"api_key_env"`
	Model                 string `json:"model"`
	Language              string `json:"language"`
	Prompt                string `json:"prompt"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// NotifyConfig groups operator notification sinks.
type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures operator notifications over a Telegram bot.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
}

// ForwardConfig groups broker forwarding targets.
type ForwardConfig struct {
	AMQP AMQPConfig `json:"amqp"`
}

// AMQPConfig configures forwarding of normalized events to a topic exchange.
type AMQPConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

// RosterConfig controls the group roster cache.
type RosterConfig struct {
	TTLSeconds int `json:"ttl_seconds"`
	Size       int `json:"size"`
}

// LoadConfig resolves config.json, unmarshals it, and applies defaults and environment overrides.
//
// A missing config file is not an error: the gateway can run on defaults plus environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env file: %w", err)
	}

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv(envWhatsAppAPIKey)); value != "" {
		cfg.Evolution.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv(envWhatsAppInstance)); value != "" {
		cfg.Evolution.Instance = value
	}
	if value := strings.TrimSpace(os.Getenv(envWhatsAppServerURL)); value != "" {
		cfg.Evolution.ServerURL = value
	}
	if value := strings.TrimSpace(os.Getenv(envTelegramBotToken)); value != "" {
		cfg.Notify.Telegram.Token = value
	}
	if value := strings.TrimSpace(os.Getenv(envTelegramChatID)); value != "" {
		if chatID, err := strconv.ParseInt(value, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = chatID
		}
	}
	if value := strings.TrimSpace(os.Getenv(envAMQPURL)); value != "" {
		cfg.Forward.AMQP.URL = value
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Evolution.Instance) == "" {
		cfg.Evolution.Instance = defaultInstance
	}
	if strings.TrimSpace(cfg.Evolution.ServerURL) == "" {
		cfg.Evolution.ServerURL = defaultServerURL
	}
	cfg.Evolution.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.Evolution.ServerURL), "/")
	if cfg.Evolution.RequestTimeoutSeconds <= 0 {
		cfg.Evolution.RequestTimeoutSeconds = defaultRequestTimeout
	}
	if cfg.Evolution.RetryCount < 0 {
		cfg.Evolution.RetryCount = 0
	} else if cfg.Evolution.RetryCount == 0 {
		cfg.Evolution.RetryCount = defaultRetryCount
	}

	if strings.TrimSpace(cfg.Webhook.Host) == "" {
		cfg.Webhook.Host = defaultWebhookHost
	}
	if cfg.Webhook.Port <= 0 {
		cfg.Webhook.Port = defaultWebhookPort
	}
	if cfg.Webhook.DispatchTimeoutSeconds <= 0 {
		cfg.Webhook.DispatchTimeoutSeconds = defaultDispatchTimeout
	}
	if cfg.Webhook.MaxBodyBytes <= 0 {
		cfg.Webhook.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(cfg.Webhook.InboundPolicy) == "" {
		cfg.Webhook.InboundPolicy = PolicyFromMe
	}
	if cfg.Webhook.Concurrency <= 0 {
		cfg.Webhook.Concurrency = defaultConcurrency
	}

	if strings.TrimSpace(cfg.Handlers.Ping.Trigger) == "" {
		cfg.Handlers.Ping.Trigger = defaultPingTrigger
	}
	if strings.TrimSpace(cfg.Handlers.Ping.Reply) == "" {
		cfg.Handlers.Ping.Reply = defaultPingReply
	}
	if strings.TrimSpace(cfg.Handlers.AudioArchive.Dir) == "" {
		cfg.Handlers.AudioArchive.Dir = defaultAudioDir
	}
	if strings.TrimSpace(cfg.Handlers.BugReport.Tag) == "" {
		cfg.Handlers.BugReport.Tag = defaultBugTag
	}
	if strings.TrimSpace(cfg.Handlers.BugReport.Emoji) == "" {
		cfg.Handlers.BugReport.Emoji = defaultBugEmoji
	}

	if strings.TrimSpace(cfg.Transcription.Model) == "" {
		cfg.Transcription.Model = defaultTranscribeModel
	}
	if strings.TrimSpace(cfg.Transcription.APIKeyEnv) == "" {
		cfg.Transcription.APIKeyEnv = defaultTranscribeKeyEnv
	}
	if cfg.Transcription.RequestTimeoutSeconds <= 0 {
		cfg.Transcription.RequestTimeoutSeconds = defaultRequestTimeout
	}

	if strings.TrimSpace(cfg.Forward.AMQP.Exchange) == "" {
		cfg.Forward.AMQP.Exchange = defaultAMQPExchange
	}

	if cfg.Roster.TTLSeconds <= 0 {
		cfg.Roster.TTLSeconds = defaultRosterTTL
	}
	if cfg.Roster.Size <= 0 {
		cfg.Roster.Size = defaultRosterSize
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is WAKIT_CONFIG first, then cwd-local fallback paths. An empty path
// with a nil error means no file was found and defaults apply.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
