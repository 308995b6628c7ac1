package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the engine.
type Config struct {
	SettingsPath string

	Engine   EngineConfig
	Audio    AudioConfig
	HTTP     HTTPConfig
	Whisper  WhisperConfig
	Deepgram DeepgramConfig
	Commit   CommitConfig
	Hotkey   HotkeyConfig
}

type EngineConfig struct {
	PTTHotkey     string
	Backend       string
	Locale        string
	RecordMode    string
	AbsorbTimeout time.Duration
	NoticeTTL     time.Duration
	MinSegment    time.Duration
	MaxRecording  time.Duration
}

type AudioConfig struct {
	Capture         string
	Source          string
	RecorderCommand string
	PWRecordCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	ChunkSize       int
}

type HTTPConfig struct {
	Endpoint       string
	Dialect        string
	AuthHeader     string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	EnableHTTP2    bool
}

type WhisperConfig struct {
	Binary  string
	Model   string
	Threads int
}

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

type CommitConfig struct {
	Paste       bool
	SessionType string
}

type HotkeyConfig struct {
	AppID        string
	RegisterHost bool
	ProviderShim bool
}

// DefaultSettingsPath is ~/.config/speak2type/settings.json.
func DefaultSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine home directory")
	}
	return filepath.Join(home, ".config", "speak2type", "settings.json"), nil
}

// Load resolves configuration from the settings file, environment variables
// and defaults, in increasing order of precedence: environment variables win
// over the file. An empty settingsPath selects DefaultSettingsPath.
func Load(settingsPath string) (Config, error) {
	if settingsPath == "" {
		path, err := DefaultSettingsPath()
		if err != nil {
			return Config{}, err
		}
		settingsPath = path
	}
	if override := strings.TrimSpace(os.Getenv("SPEAK2TYPE_SETTINGS_FILE")); override != "" {
		settingsPath = override
	}

	file, err := ReadSettings(settingsPath)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		SettingsPath: settingsPath,
		Engine: EngineConfig{
			PTTHotkey:     envOrDefault("SPEAK2TYPE_PTT_HOTKEY", firstNonEmpty(file.PTTHotkey, "<Alt>space")),
			Backend:       envOrDefault("SPEAK2TYPE_BACKEND", file.Backend),
			Locale:        envOrDefault("SPEAK2TYPE_LOCALE", firstNonEmpty(file.Locale, os.Getenv("LC_ALL"), os.Getenv("LANG"), "en_US")),
			RecordMode:    envOrDefault("SPEAK2TYPE_RECORD_MODE", firstNonEmpty(file.RecordMode, "push_to_talk")),
			AbsorbTimeout: time.Duration(envOrDefaultInt("SPEAK2TYPE_ABSORB_TIMEOUT_MS", 1000)) * time.Millisecond,
			NoticeTTL:     time.Duration(envOrDefaultInt("SPEAK2TYPE_NOTICE_MS", 3000)) * time.Millisecond,
			MinSegment:    time.Duration(envOrDefaultInt("SPEAK2TYPE_MIN_SEGMENT_MS", 200)) * time.Millisecond,
			MaxRecording:  time.Duration(envOrDefaultInt("SPEAK2TYPE_MAX_RECORDING_S", 120)) * time.Second,
		},
		Audio: AudioConfig{
			Capture:         envOrDefault("SPEAK2TYPE_CAPTURE", "command"),
			Source:          envOrDefault("SPEAK2TYPE_AUDIO_SOURCE", firstNonEmpty(file.AudioSource, "auto")),
			RecorderCommand: envOrDefault("SPEAK2TYPE_FFMPEG_COMMAND", "ffmpeg"),
			PWRecordCommand: envOrDefault("SPEAK2TYPE_PW_RECORD_COMMAND", "pw-record"),
			InputFormat:     envOrDefault("SPEAK2TYPE_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("SPEAK2TYPE_AUDIO_INPUT_DEVICE"),
				file.AudioDevice,
				"default",
			),
			SampleRate: envOrDefaultInt("SPEAK2TYPE_SAMPLE_RATE", 16000),
			Channels:   envOrDefaultInt("SPEAK2TYPE_CHANNELS", 1),
			ChunkSize:  envOrDefaultInt("SPEAK2TYPE_AUDIO_CHUNK_SIZE", 4096),
		},
		HTTP: HTTPConfig{
			Endpoint:       envOrDefault("SPEAK2TYPE_HTTP_ENDPOINT", file.HTTPEndpoint),
			Dialect:        envOrDefault("SPEAK2TYPE_HTTP_DIALECT", firstNonEmpty(file.HTTPDialect, "generic")),
			AuthHeader:     envOrDefault("SPEAK2TYPE_HTTP_AUTH_HEADER", file.HTTPAuthHeader),
			Model:          envOrDefault("SPEAK2TYPE_HTTP_MODEL", firstNonEmpty(file.HTTPModel, "whisper-1")),
			Timeout:        time.Duration(envOrDefaultInt("SPEAK2TYPE_HTTP_TIMEOUT_S", 30)) * time.Second,
			MaxRetries:     envOrDefaultInt("SPEAK2TYPE_HTTP_MAX_RETRIES", 2),
			RetryBaseDelay: time.Duration(envOrDefaultInt("SPEAK2TYPE_HTTP_RETRY_BASE_MS", 500)) * time.Millisecond,
			EnableHTTP2:    envOrDefaultBool("SPEAK2TYPE_HTTP_ENABLE_HTTP2", false),
		},
		Whisper: WhisperConfig{
			Binary:  envOrDefault("SPEAK2TYPE_WHISPER_BINARY", firstNonEmpty(file.WhisperBinary, "whisper-cli")),
			Model:   envOrDefault("SPEAK2TYPE_WHISPER_MODEL", file.WhisperModel),
			Threads: envOrDefaultInt("SPEAK2TYPE_WHISPER_THREADS", 0),
		},
		Deepgram: DeepgramConfig{
			APIKey:      strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:  envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:       envOrDefault("DEEPGRAM_MODEL", firstNonEmpty(file.DeepgramModel, "nova-2")),
			Language:    strings.TrimSpace(os.Getenv("DEEPGRAM_LANGUAGE")),
			SmartFormat: envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
		},
		Commit: CommitConfig{
			Paste:       envOrDefaultBool("SPEAK2TYPE_PASTE_UNFOCUSED", true),
			SessionType: strings.TrimSpace(os.Getenv("XDG_SESSION_TYPE")),
		},
		Hotkey: HotkeyConfig{
			AppID:        envOrDefault("SPEAK2TYPE_APP_ID", "ibus-setup-speak2type"),
			RegisterHost: envOrDefaultBool("SPEAK2TYPE_REGISTER_HOST", true),
			ProviderShim: envOrDefaultBool("SPEAK2TYPE_PROVIDER_SHIM", false),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Engine.RecordMode != "toggle" {
		cfg.Engine.RecordMode = "push_to_talk"
	}
	if cfg.Engine.AbsorbTimeout <= 0 {
		cfg.Engine.AbsorbTimeout = time.Second
	}
	if cfg.Engine.MaxRecording <= 0 {
		cfg.Engine.MaxRecording = 2 * time.Minute
	}
	if cfg.Engine.MinSegment < 0 {
		cfg.Engine.MinSegment = 0
	}
	if cfg.HTTP.MaxRetries < 0 {
		cfg.HTTP.MaxRetries = 0
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
