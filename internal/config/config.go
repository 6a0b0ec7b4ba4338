package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"` // json, text
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	MetricsPath  string `yaml:"metrics_path"`
}

type HTTPConfig struct {
	Bind              string            `yaml:"bind"`
	Port              int               `yaml:"port"`
	CORSOrigins       []string          `yaml:"cors_origins"`
	ResponseHeaders   map[string]string `yaml:"response_headers"`
	ReadHeaderTimeout int               `yaml:"read_header_timeout_ms"`
	ShutdownTimeout   int               `yaml:"shutdown_timeout_ms"`
}

type Config struct {
	RuntimeName  string             `yaml:"runtime_name"`
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bus          BusConfig          `yaml:"bus"`
	Storage      StorageConfig      `yaml:"storage"`
	Conversation ConversationConfig `yaml:"conversation"`
	LLM          LLMConfig          `yaml:"llm"`
	TTS          TTSConfig          `yaml:"tts"`
	Transcode    TranscodeConfig    `yaml:"transcode"`
	LipSync      LipSyncConfig      `yaml:"lipsync"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// StorageConfig locates generated artifacts on disk.
type StorageConfig struct {
	AudioDir       string `yaml:"audio_dir"`
	LipSyncDir     string `yaml:"lipsync_dir"`
	PrimaryExt     string `yaml:"primary_ext"`
	SecondaryExt   string `yaml:"secondary_ext"`
	FileCodeLength int    `yaml:"file_code_length"`
}

type ConversationConfig struct {
	Driver         string `yaml:"driver"` // file, sqlite, redis, memory
	Path           string `yaml:"path"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisPrefix    string `yaml:"redis_prefix"`
	DefaultSession string `yaml:"default_session"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, gemini, ollama, exec
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Persona     string  `yaml:"persona"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
	MaxAttempts int     `yaml:"max_attempts"`
}

type TTSConfig struct {
	Mode            string  `yaml:"mode"` // mock, elevenlabs, exec
	Endpoint        string  `yaml:"endpoint"`
	Command         string  `yaml:"command"`
	APIKey          string  `yaml:"api_key"`
	VoiceID         string  `yaml:"voice_id"`
	ModelID         string  `yaml:"model_id"`
	OutputFormat    string  `yaml:"output_format"`
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
	UseSpeakerBoost bool    `yaml:"use_speaker_boost"`
	Speed           float64 `yaml:"speed"`
	Style           float64 `yaml:"style"`
	TimeoutMS       int     `yaml:"timeout_ms"`
	MaxAttempts     int     `yaml:"max_attempts"`
}

type TranscodeConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	Codec     string `yaml:"codec"`
	Quality   int    `yaml:"quality"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type LipSyncConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-guide",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:              "0.0.0.0",
			Port:              9000,
			CORSOrigins:       []string{"http://localhost:3000"},
			ResponseHeaders:   map[string]string{"ngrok-skip-browser-warning": "true"},
			ReadHeaderTimeout: 5000,
			ShutdownTimeout:   10000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			OTLPEndpoint: "",
			OTLPInsecure: true,
			MetricsPath:  "/metrics",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Storage: StorageConfig{
			AudioDir:       "./public/audio",
			LipSyncDir:     "./public/lip-sync",
			PrimaryExt:     "mp3",
			SecondaryExt:   "ogg",
			FileCodeLength: 6,
		},
		Conversation: ConversationConfig{
			Driver:         "file",
			Path:           "./memory/data.json",
			RedisAddr:      "localhost:6379",
			RedisPrefix:    "guide:session:",
			DefaultSession: "default",
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "", // provider default: gemini-2.0-flash or llama3.2:latest
			Persona:     "You are a AI Tour Guide, name is Deepiki. Answer user query in 2-3 sentences.",
			// MaxTokens and Temperature stay zero so the provider defaults apply.
			TimeoutMS:   30000,
			MaxAttempts: 1,
		},
		TTS: TTSConfig{
			Mode:            "mock",
			Endpoint:        "https://api.elevenlabs.io",
			VoiceID:         "ecp3DWciuUyW7BYM7II1",
			ModelID:         "eleven_multilingual_v2",
			OutputFormat:    "mp3_44100_128",
			Stability:       0.55,
			SimilarityBoost: 0.65,
			UseSpeakerBoost: true,
			Speed:           0.9,
			Style:           0.3,
			TimeoutMS:       45000,
			MaxAttempts:     1,
		},
		Transcode: TranscodeConfig{
			Mode:      "mock",
			Command:   "ffmpeg",
			Codec:     "libvorbis",
			Quality:   4,
			TimeoutMS: 30000,
		},
		LipSync: LipSyncConfig{
			Mode:      "mock",
			Command:   "./deps/bin/python3 convert.py",
			TimeoutMS: 30000,
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
	overrideString(&cfg.RuntimeName, "GUIDE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "GUIDE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "GUIDE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "GUIDE_HTTP_PORT")
	overrideStringSlice(&cfg.HTTP.CORSOrigins, "GUIDE_HTTP_CORS_ORIGINS")
	overrideString(&cfg.Telemetry.LogLevel, "GUIDE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "GUIDE_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "GUIDE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "GUIDE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "GUIDE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "GUIDE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "GUIDE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "GUIDE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "GUIDE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "GUIDE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "GUIDE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "GUIDE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "GUIDE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Storage.AudioDir, "GUIDE_STORAGE_AUDIO_DIR")
	overrideString(&cfg.Storage.LipSyncDir, "GUIDE_STORAGE_LIPSYNC_DIR")
	overrideInt(&cfg.Storage.FileCodeLength, "GUIDE_STORAGE_FILE_CODE_LENGTH")
	overrideString(&cfg.Conversation.Driver, "GUIDE_CONVERSATION_DRIVER")
	overrideString(&cfg.Conversation.Path, "GUIDE_CONVERSATION_PATH")
	overrideString(&cfg.Conversation.RedisAddr, "GUIDE_CONVERSATION_REDIS_ADDR")
	overrideString(&cfg.Conversation.RedisPassword, "GUIDE_CONVERSATION_REDIS_PASSWORD")
	overrideInt(&cfg.Conversation.RedisDB, "GUIDE_CONVERSATION_REDIS_DB")
	overrideString(&cfg.Conversation.DefaultSession, "GUIDE_CONVERSATION_DEFAULT_SESSION")
	overrideString(&cfg.LLM.Mode, "GUIDE_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "GUIDE_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "GUIDE_LLM_COMMAND")
	overrideString(&cfg.LLM.APIKey, "GEMINI_KEY")
	overrideString(&cfg.LLM.APIKey, "GUIDE_LLM_API_KEY")
	overrideString(&cfg.LLM.Model, "GUIDE_LLM_MODEL")
	overrideString(&cfg.LLM.Persona, "GUIDE_LLM_PERSONA")
	overrideInt(&cfg.LLM.MaxTokens, "GUIDE_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "GUIDE_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "GUIDE_LLM_TIMEOUT_MS")
	overrideInt(&cfg.LLM.MaxAttempts, "GUIDE_LLM_MAX_ATTEMPTS")
	overrideString(&cfg.TTS.Mode, "GUIDE_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "GUIDE_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Command, "GUIDE_TTS_COMMAND")
	overrideString(&cfg.TTS.APIKey, "ELEVENLABS_API_KEY")
	overrideString(&cfg.TTS.APIKey, "GUIDE_TTS_API_KEY")
	overrideString(&cfg.TTS.VoiceID, "GUIDE_TTS_VOICE_ID")
	overrideString(&cfg.TTS.ModelID, "GUIDE_TTS_MODEL_ID")
	overrideString(&cfg.TTS.OutputFormat, "GUIDE_TTS_OUTPUT_FORMAT")
	overrideInt(&cfg.TTS.TimeoutMS, "GUIDE_TTS_TIMEOUT_MS")
	overrideInt(&cfg.TTS.MaxAttempts, "GUIDE_TTS_MAX_ATTEMPTS")
	overrideString(&cfg.Transcode.Mode, "GUIDE_TRANSCODE_MODE")
	overrideString(&cfg.Transcode.Command, "GUIDE_TRANSCODE_COMMAND")
	overrideInt(&cfg.Transcode.Quality, "GUIDE_TRANSCODE_QUALITY")
	overrideInt(&cfg.Transcode.TimeoutMS, "GUIDE_TRANSCODE_TIMEOUT_MS")
	overrideString(&cfg.LipSync.Mode, "GUIDE_LIPSYNC_MODE")
	overrideString(&cfg.LipSync.Command, "GUIDE_LIPSYNC_COMMAND")
	overrideInt(&cfg.LipSync.TimeoutMS, "GUIDE_LIPSYNC_TIMEOUT_MS")
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

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Validate reports the first configuration problem found.
func Validate(cfg Config) error { return validate(cfg) }

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Telemetry.LogFormat {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Storage.AudioDir == "" {
		return errors.New("storage.audio_dir must not be empty")
	}
	if cfg.Storage.LipSyncDir == "" {
		return errors.New("storage.lipsync_dir must not be empty")
	}
	if cfg.Storage.PrimaryExt == "" || cfg.Storage.SecondaryExt == "" {
		return errors.New("storage.primary_ext and storage.secondary_ext must be set")
	}
	if cfg.Storage.PrimaryExt == cfg.Storage.SecondaryExt {
		return errors.New("storage.primary_ext and storage.secondary_ext must differ")
	}
	if cfg.Storage.FileCodeLength < 4 || cfg.Storage.FileCodeLength > 32 {
		return errors.New("storage.file_code_length must be between 4 and 32")
	}
	switch cfg.Conversation.Driver {
	case "file", "sqlite":
		if cfg.Conversation.Path == "" {
			return fmt.Errorf("conversation.path must be set when driver=%s", cfg.Conversation.Driver)
		}
	case "redis":
		if cfg.Conversation.RedisAddr == "" {
			return errors.New("conversation.redis_addr must be set when driver=redis")
		}
	case "memory":
	default:
		return errors.New("conversation.driver must be one of file|sqlite|redis|memory")
	}
	if cfg.Conversation.DefaultSession == "" {
		return errors.New("conversation.default_session must not be empty")
	}
	switch cfg.LLM.Mode {
	case "mock":
	case "gemini":
		if cfg.LLM.APIKey == "" {
			return errors.New("llm.api_key must be set when mode=gemini")
		}
	case "ollama":
		if cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	default:
		return errors.New("llm.mode must be one of mock|gemini|ollama|exec")
	}
	if cfg.LLM.Persona == "" {
		return errors.New("llm.persona must not be empty")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.LLM.Temperature < 0 {
		return errors.New("llm.temperature must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock":
	case "elevenlabs":
		if cfg.TTS.APIKey == "" {
			return errors.New("tts.api_key must be set when mode=elevenlabs")
		}
		if cfg.TTS.VoiceID == "" {
			return errors.New("tts.voice_id must be set when mode=elevenlabs")
		}
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of mock|elevenlabs|exec")
	}
	switch cfg.Transcode.Mode {
	case "mock":
	case "exec":
		if cfg.Transcode.Command == "" {
			return errors.New("transcode.command must be set when mode=exec")
		}
		if cfg.Transcode.Codec == "" {
			return errors.New("transcode.codec must be set when mode=exec")
		}
	default:
		return errors.New("transcode.mode must be one of mock|exec")
	}
	switch cfg.LipSync.Mode {
	case "mock":
	case "exec":
		if cfg.LipSync.Command == "" {
			return errors.New("lipsync.command must be set when mode=exec")
		}
	default:
		return errors.New("lipsync.mode must be one of mock|exec")
	}
	for name, v := range map[string]int{
		"llm.timeout_ms":       cfg.LLM.TimeoutMS,
		"tts.timeout_ms":       cfg.TTS.TimeoutMS,
		"transcode.timeout_ms": cfg.Transcode.TimeoutMS,
		"lipsync.timeout_ms":   cfg.LipSync.TimeoutMS,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.LLM.MaxAttempts < 1 || cfg.TTS.MaxAttempts < 1 {
		return errors.New("llm.max_attempts and tts.max_attempts must be >= 1")
	}
	return nil
}
