package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Bind            string `yaml:"bind"`
	Port            int    `yaml:"port"`
	Protocol        string `yaml:"protocol"` // h2c, h2, http1
	TLSCert         string `yaml:"tls_cert"`
	TLSKey          string `yaml:"tls_key"`
	ShutdownGraceMS int    `yaml:"shutdown_grace_ms"`
	Workers         int    `yaml:"workers"`
}

type UploadConfig struct {
	MaxBytes        int64    `yaml:"max_bytes"`
	DefaultLanguage string   `yaml:"default_language"`
	Languages       []string `yaml:"languages"`
}

type ChunkerConfig struct {
	MaxChars            int      `yaml:"max_chars"`
	FirstChunkHardLimit int      `yaml:"first_chunk_hard_limit"`
	Abbreviations       []string `yaml:"abbreviations"`
}

type AssetStoreConfig struct {
	Root             string `yaml:"root"`
	StablePollMS     int    `yaml:"stable_poll_ms"`
	StableBudgetMS   int    `yaml:"stable_budget_ms"`
	RetentionGraceMS int    `yaml:"retention_grace_ms"`
	SweepIntervalMS  int    `yaml:"sweep_interval_ms"`
}

type ASRConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, bus
	Command   string `yaml:"command"`
	Subject   string `yaml:"subject"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type LLMConfig struct {
	Mode             string  `yaml:"mode"` // mock, ollama, exec
	Endpoint         string  `yaml:"endpoint"`
	Model            string  `yaml:"model"`
	Command          string  `yaml:"command"`
	SystemPrompt     string  `yaml:"system_prompt"`
	FallbackEnabled  bool    `yaml:"fallback_enabled"`
	FallbackTemplate string  `yaml:"fallback_template"`
	HistoryTurns     int     `yaml:"history_turns"`
	TimeoutMS        int     `yaml:"timeout_ms"`
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Mode         string `yaml:"mode"` // mock, exec, http, bus
	Command      string `yaml:"command"`
	Endpoint     string `yaml:"endpoint"`
	Subject      string `yaml:"subject"`
	VoiceDir     string `yaml:"voice_dir"`
	DefaultVoice string `yaml:"default_voice"`
	SampleRate   int    `yaml:"sample_rate"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type LipSyncConfig struct {
	Mode            string `yaml:"mode"` // mock, exec, http, bus
	Command         string `yaml:"command"`
	Endpoint        string `yaml:"endpoint"`
	Subject         string `yaml:"subject"`
	PortraitDir     string `yaml:"portrait_dir"`
	DefaultPortrait string `yaml:"default_portrait"`
	FPS             int    `yaml:"fps"`
	Resolution      int    `yaml:"resolution"`
	DiffusionSteps  int    `yaml:"diffusion_steps"`
	TimeoutMS       int    `yaml:"timeout_ms"`
}

type BusConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Embedded         bool     `yaml:"embedded"`
	Port             int      `yaml:"port"`
	Servers          []string `yaml:"servers"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	Token            string   `yaml:"token"`
	ConnectTimeoutMS int      `yaml:"connect_timeout_ms"`
	RequestTimeoutMS int      `yaml:"request_timeout_ms"`
	AnnounceSubject  string   `yaml:"announce_subject"`
}

type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	Server      ServerConfig     `yaml:"server"`
	Upload      UploadConfig     `yaml:"upload"`
	Chunker     ChunkerConfig    `yaml:"chunker"`
	AssetStore  AssetStoreConfig `yaml:"asset_store"`
	ASR         ASRConfig        `yaml:"asr"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	LipSync     LipSyncConfig    `yaml:"lipsync"`
	Bus         BusConfig        `yaml:"bus"`
	Journal     JournalConfig    `yaml:"journal"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
}

func Default() Config {
	return Config{
		RuntimeName: "avatar-gateway",
		Environment: "development",
		Server: ServerConfig{
			Bind:            "0.0.0.0",
			Port:            8080,
			Protocol:        "h2c",
			ShutdownGraceMS: 10000,
			Workers:         4,
		},
		Upload: UploadConfig{
			MaxBytes:        15 << 20,
			DefaultLanguage: "en",
			Languages:       []string{"en", "zh-cn", "es"},
		},
		Chunker: ChunkerConfig{
			MaxChars:            120,
			FirstChunkHardLimit: 125,
			Abbreviations: []string{
				"Mr.", "Mrs.", "Ms.", "Dr.", "Prof.", "Jr.", "Sr.", "St.",
				"vs.", "etc.", "e.g.", "i.e.", "U.S.", "U.K.", "D.C.",
			},
		},
		AssetStore: AssetStoreConfig{
			Root:             "./data/artifacts",
			StablePollMS:     100,
			StableBudgetMS:   2000,
			RetentionGraceMS: 60000,
			SweepIntervalMS:  30000,
		},
		ASR: ASRConfig{
			Mode:      "mock",
			Subject:   "avatar.asr.transcribe",
			TimeoutMS: 30000,
		},
		LLM: LLMConfig{
			Mode:             "mock",
			Endpoint:         "http://localhost:11434",
			Model:            "llama3.2:latest",
			SystemPrompt:     "You are a friendly on-screen assistant. Keep answers short, conversational, and easy to speak aloud.",
			FallbackEnabled:  true,
			FallbackTemplate: "I heard you say: %s",
			HistoryTurns:     10,
			TimeoutMS:        60000,
			MaxTokens:        256,
			Temperature:      0.7,
		},
		TTS: TTSConfig{
			Mode:         "mock",
			Subject:      "avatar.tts.synthesize",
			VoiceDir:     "./assets/voices",
			DefaultVoice: "default",
			SampleRate:   22050,
			TimeoutMS:    30000,
		},
		LipSync: LipSyncConfig{
			Mode:            "mock",
			Subject:         "avatar.lipsync.animate",
			PortraitDir:     "./assets/portraits",
			DefaultPortrait: "default",
			FPS:             25,
			Resolution:      256,
			DiffusionSteps:  6,
			TimeoutMS:       60000,
		},
		Bus: BusConfig{
			Enabled:          false,
			Embedded:         true,
			Port:             4222,
			Servers:          []string{"nats://localhost:4222"},
			ConnectTimeoutMS: 2000,
			RequestTimeoutMS: 30000,
			AnnounceSubject:  "avatar.turn.event",
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          "./data/avatar-journal.db",
			RetentionDays: 7,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "AVATAR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "AVATAR_ENVIRONMENT")
	overrideString(&cfg.Server.Bind, "AVATAR_SERVER_BIND")
	overrideInt(&cfg.Server.Port, "AVATAR_SERVER_PORT")
	overrideString(&cfg.Server.Protocol, "AVATAR_SERVER_PROTOCOL")
	overrideString(&cfg.Server.TLSCert, "AVATAR_SERVER_TLS_CERT")
	overrideString(&cfg.Server.TLSKey, "AVATAR_SERVER_TLS_KEY")
	overrideInt(&cfg.Server.ShutdownGraceMS, "AVATAR_SERVER_SHUTDOWN_GRACE_MS")
	overrideInt(&cfg.Server.Workers, "AVATAR_SERVER_WORKERS")
	overrideInt64(&cfg.Upload.MaxBytes, "AVATAR_UPLOAD_MAX_BYTES")
	overrideString(&cfg.Upload.DefaultLanguage, "AVATAR_UPLOAD_DEFAULT_LANGUAGE")
	overrideStringSlice(&cfg.Upload.Languages, "AVATAR_UPLOAD_LANGUAGES")
	overrideInt(&cfg.Chunker.MaxChars, "AVATAR_CHUNKER_MAX_CHARS")
	overrideInt(&cfg.Chunker.FirstChunkHardLimit, "AVATAR_CHUNKER_FIRST_CHUNK_HARD_LIMIT")
	overrideStringSlice(&cfg.Chunker.Abbreviations, "AVATAR_CHUNKER_ABBREVIATIONS")
	overrideString(&cfg.AssetStore.Root, "AVATAR_ASSET_STORE_ROOT")
	overrideInt(&cfg.AssetStore.StablePollMS, "AVATAR_ASSET_STORE_STABLE_POLL_MS")
	overrideInt(&cfg.AssetStore.StableBudgetMS, "AVATAR_ASSET_STORE_STABLE_BUDGET_MS")
	overrideInt(&cfg.AssetStore.RetentionGraceMS, "AVATAR_ASSET_STORE_RETENTION_GRACE_MS")
	overrideInt(&cfg.AssetStore.SweepIntervalMS, "AVATAR_ASSET_STORE_SWEEP_INTERVAL_MS")
	overrideString(&cfg.ASR.Mode, "AVATAR_ASR_MODE")
	overrideString(&cfg.ASR.Command, "AVATAR_ASR_COMMAND")
	overrideString(&cfg.ASR.Subject, "AVATAR_ASR_SUBJECT")
	overrideInt(&cfg.ASR.TimeoutMS, "AVATAR_ASR_TIMEOUT_MS")
	overrideString(&cfg.LLM.Mode, "AVATAR_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "AVATAR_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Model, "AVATAR_LLM_MODEL")
	overrideString(&cfg.LLM.Command, "AVATAR_LLM_COMMAND")
	overrideString(&cfg.LLM.SystemPrompt, "AVATAR_LLM_SYSTEM_PROMPT")
	overrideBool(&cfg.LLM.FallbackEnabled, "AVATAR_LLM_FALLBACK_ENABLED")
	overrideString(&cfg.LLM.FallbackTemplate, "AVATAR_LLM_FALLBACK_TEMPLATE")
	overrideInt(&cfg.LLM.HistoryTurns, "AVATAR_LLM_HISTORY_TURNS")
	overrideInt(&cfg.LLM.TimeoutMS, "AVATAR_LLM_TIMEOUT_MS")
	overrideInt(&cfg.LLM.MaxTokens, "AVATAR_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "AVATAR_LLM_TEMPERATURE")
	overrideString(&cfg.TTS.Mode, "AVATAR_TTS_MODE")
	overrideString(&cfg.TTS.Command, "AVATAR_TTS_COMMAND")
	overrideString(&cfg.TTS.Endpoint, "AVATAR_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Subject, "AVATAR_TTS_SUBJECT")
	overrideString(&cfg.TTS.VoiceDir, "AVATAR_TTS_VOICE_DIR")
	overrideString(&cfg.TTS.DefaultVoice, "AVATAR_TTS_DEFAULT_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "AVATAR_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.TimeoutMS, "AVATAR_TTS_TIMEOUT_MS")
	overrideString(&cfg.LipSync.Mode, "AVATAR_LIPSYNC_MODE")
	overrideString(&cfg.LipSync.Command, "AVATAR_LIPSYNC_COMMAND")
	overrideString(&cfg.LipSync.Endpoint, "AVATAR_LIPSYNC_ENDPOINT")
	overrideString(&cfg.LipSync.Subject, "AVATAR_LIPSYNC_SUBJECT")
	overrideString(&cfg.LipSync.PortraitDir, "AVATAR_LIPSYNC_PORTRAIT_DIR")
	overrideString(&cfg.LipSync.DefaultPortrait, "AVATAR_LIPSYNC_DEFAULT_PORTRAIT")
	overrideInt(&cfg.LipSync.FPS, "AVATAR_LIPSYNC_FPS")
	overrideInt(&cfg.LipSync.Resolution, "AVATAR_LIPSYNC_RESOLUTION")
	overrideInt(&cfg.LipSync.DiffusionSteps, "AVATAR_LIPSYNC_DIFFUSION_STEPS")
	overrideInt(&cfg.LipSync.TimeoutMS, "AVATAR_LIPSYNC_TIMEOUT_MS")
	overrideBool(&cfg.Bus.Enabled, "AVATAR_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "AVATAR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "AVATAR_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "AVATAR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "AVATAR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "AVATAR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "AVATAR_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeoutMS, "AVATAR_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.RequestTimeoutMS, "AVATAR_BUS_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Bus.AnnounceSubject, "AVATAR_BUS_ANNOUNCE_SUBJECT")
	overrideBool(&cfg.Journal.Enabled, "AVATAR_JOURNAL_ENABLED")
	overrideString(&cfg.Journal.Path, "AVATAR_JOURNAL_PATH")
	overrideInt(&cfg.Journal.RetentionDays, "AVATAR_JOURNAL_RETENTION_DAYS")
	overrideString(&cfg.Telemetry.LogLevel, "AVATAR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "AVATAR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "AVATAR_TELEMETRY_OTLP_INSECURE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	switch cfg.Server.Protocol {
	case "h2c", "h2", "http1":
	default:
		return errors.New("server.protocol must be one of h2c|h2|http1")
	}
	if cfg.Server.Protocol == "http1" && cfg.Environment == "production" {
		return errors.New("server.protocol http1 is not allowed in production; SSE holds a connection open and HTTP/1.1 per-origin limits starve video requests")
	}
	if cfg.Server.Protocol == "h2" && (cfg.Server.TLSCert == "" || cfg.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set when protocol=h2")
	}
	if cfg.Server.Workers < 1 {
		return errors.New("server.workers must be >= 1")
	}
	if cfg.Upload.MaxBytes <= 0 {
		return errors.New("upload.max_bytes must be positive")
	}
	if len(cfg.Upload.Languages) == 0 {
		return errors.New("upload.languages must not be empty")
	}
	if !containsString(cfg.Upload.Languages, cfg.Upload.DefaultLanguage) {
		return errors.New("upload.default_language must be one of upload.languages")
	}
	if cfg.Chunker.MaxChars <= 0 {
		return errors.New("chunker.max_chars must be positive")
	}
	if cfg.Chunker.FirstChunkHardLimit < cfg.Chunker.MaxChars {
		return errors.New("chunker.first_chunk_hard_limit must be >= chunker.max_chars")
	}
	if cfg.AssetStore.Root == "" {
		return errors.New("asset_store.root must not be empty")
	}
	if cfg.AssetStore.StablePollMS <= 0 {
		return errors.New("asset_store.stable_poll_ms must be positive")
	}
	if cfg.AssetStore.StableBudgetMS < cfg.AssetStore.StablePollMS {
		return errors.New("asset_store.stable_budget_ms must be >= asset_store.stable_poll_ms")
	}
	switch cfg.ASR.Mode {
	case "mock", "exec", "bus":
	default:
		return errors.New("asr.mode must be one of mock|exec|bus")
	}
	if cfg.ASR.Mode == "exec" && cfg.ASR.Command == "" {
		return errors.New("asr.command must be set when mode=exec")
	}
	switch cfg.LLM.Mode {
	case "mock", "ollama", "exec":
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec")
	}
	if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
		return errors.New("llm.endpoint must be set when mode=ollama")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.FallbackEnabled && cfg.LLM.FallbackTemplate == "" {
		return errors.New("llm.fallback_template must not be empty when fallback is enabled")
	}
	if cfg.LLM.HistoryTurns < 0 {
		return errors.New("llm.history_turns must be >= 0")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec", "http", "bus":
	default:
		return errors.New("tts.mode must be one of mock|exec|http|bus")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.Mode == "http" && cfg.TTS.Endpoint == "" {
		return errors.New("tts.endpoint must be set when mode=http")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	switch cfg.LipSync.Mode {
	case "mock", "exec", "http", "bus":
	default:
		return errors.New("lipsync.mode must be one of mock|exec|http|bus")
	}
	if cfg.LipSync.Mode == "exec" && cfg.LipSync.Command == "" {
		return errors.New("lipsync.command must be set when mode=exec")
	}
	if cfg.LipSync.Mode == "http" && cfg.LipSync.Endpoint == "" {
		return errors.New("lipsync.endpoint must be set when mode=http")
	}
	if cfg.LipSync.FPS <= 0 {
		return errors.New("lipsync.fps must be positive")
	}
	if cfg.LipSync.Resolution <= 0 {
		return errors.New("lipsync.resolution must be positive")
	}
	usesBus := cfg.ASR.Mode == "bus" || cfg.TTS.Mode == "bus" || cfg.LipSync.Mode == "bus"
	if usesBus && !cfg.Bus.Enabled {
		return errors.New("bus.enabled must be true when any adapter mode is bus")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.RequestTimeoutMS <= 0 {
			return errors.New("bus.request_timeout_ms must be positive")
		}
	}
	if cfg.Journal.Enabled {
		if cfg.Journal.Path == "" {
			return errors.New("journal.path must not be empty when journal is enabled")
		}
		if cfg.Journal.RetentionDays < 0 {
			return errors.New("journal.retention_days must be >= 0")
		}
	}
	return nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
