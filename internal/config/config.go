package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	ErrNoCredential = errors.New("auth.credential is required")
	ErrNoAPIKey     = errors.New("transcription.api_key (OPENAI_API_KEY) is required")
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Auth          AuthConfig          `mapstructure:"auth"`
	Room          RoomConfig          `mapstructure:"room"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	ICEServers    []ICEServer         `mapstructure:"ice_servers"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

type AuthConfig struct {
	Credential string `mapstructure:"credential"`
}

type RoomConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type TranscriptionConfig struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	Instructions   string        `mapstructure:"instructions"`
	Model          string        `mapstructure:"model"`
	AudioFormat    string        `mapstructure:"audio_format"`
	VAD            VADConfig     `mapstructure:"vad"`
	ServerFanout   bool          `mapstructure:"server_fanout"`
	ConnectLimit   int           `mapstructure:"connect_limit"`
	ConnectWindow  time.Duration `mapstructure:"connect_window"`
}

type VADConfig struct {
	Threshold         float64 `mapstructure:"threshold"`
	PrefixPaddingMs   int     `mapstructure:"prefix_padding_ms"`
	SilenceDurationMs int     `mapstructure:"silence_duration_ms"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

const defaultInstructions = "You are a transcription assistant. Only transcribe the received audio. " +
	"Never answer, never comment, never interact. Transcribe exactly what was said, word for word."

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8181)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("auth.credential", "")

	v.SetDefault("room.ttl", "5m")
	v.SetDefault("room.sweep_interval", "1m")

	v.SetDefault("transcription.api_key", "")
	v.SetDefault("transcription.url", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-12-17")
	v.SetDefault("transcription.connect_timeout", "10s")
	v.SetDefault("transcription.settle_delay", "500ms")
	v.SetDefault("transcription.write_timeout", "5s")
	v.SetDefault("transcription.instructions", defaultInstructions)
	v.SetDefault("transcription.model", "whisper-1")
	v.SetDefault("transcription.audio_format", "pcm16")
	v.SetDefault("transcription.vad.threshold", 0.5)
	v.SetDefault("transcription.vad.prefix_padding_ms", 300)
	v.SetDefault("transcription.vad.silence_duration_ms", 500)
	v.SetDefault("transcription.server_fanout", false)
	v.SetDefault("transcription.connect_limit", 5)
	v.SetDefault("transcription.connect_window", "1m")

	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}},
	})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads config/config.<CONFIG_ENV>.yaml, then RELAY_* environment
// variables, then command line flags. A .env file in the working
// directory is loaded into the environment first.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	fs := pflag.NewFlagSet("callrelay", pflag.ContinueOnError)
	fs.String("config", "", "config file path (overrides CONFIG_ENV lookup)")
	fs.Int("port", v.GetInt("port"), "listen port")
	fs.String("mode", v.GetString("mode"), "gin mode: debug or release")
	fs.String("log-level", v.GetString("log_level"), "zerolog level")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	fileName, _ := fs.GetString("config")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("transcription.api_key", "RELAY_TRANSCRIPTION_API_KEY", "OPENAI_API_KEY")

	_ = v.BindPFlag("port", fs.Lookup("port"))
	_ = v.BindPFlag("mode", fs.Lookup("mode"))
	_ = v.BindPFlag("log_level", fs.Lookup("log-level"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Dur("room_ttl", cfg.Room.TTL).
		Msg("config ready")
	return &cfg, nil
}

// Validate reports settings the relay cannot run without.
func (c *Config) Validate() error {
	if c.Auth.Credential == "" {
		return ErrNoCredential
	}
	if c.Transcription.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}
