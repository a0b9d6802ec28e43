package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken   string   `env:"AUTH_TOKEN"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`

	// Analysis collaborator (speech-to-text + disfluency service).
	AnalyzerURL     string        `env:"ANALYZER_URL" envDefault:"http://localhost:8081/api/analyze"`
	AnalyzerTimeout time.Duration `env:"ANALYZER_TIMEOUT" envDefault:"120s"`

	// Session defaults.
	QuestionCount    int           `env:"QUESTION_COUNT" envDefault:"5"`
	QuestionDuration time.Duration `env:"QUESTION_DURATION" envDefault:"30s"`

	// Capture constraints.
	SampleRate   int     `env:"CAPTURE_SAMPLE_RATE" envDefault:"16000"`
	AudioBitrate int     `env:"CAPTURE_AUDIO_BITRATE" envDefault:"320000"`
	GainBoost    float64 `env:"CAPTURE_GAIN_BOOST" envDefault:"2.0"`

	// Artifact storage.
	ArtifactsDir   string `env:"ARTIFACTS_DIR" envDefault:"./artifacts"`
	WatchArtifacts bool   `env:"WATCH_ARTIFACTS" envDefault:"true"`

	// Raw-audio upload side channel. Disabled unless a bucket is set.
	S3 S3Config `envPrefix:"S3_"`

	// Optional telemetry publisher.
	MQTTBrokerURL string `env:"MQTT_BROKER_URL"`
	MQTTClientID  string `env:"MQTT_CLIENT_ID" envDefault:"snaptok-engine"`
	MQTTTopic     string `env:"MQTT_TOPIC" envDefault:"snaptok/telemetry"`
	MQTTUsername  string `env:"MQTT_USERNAME"`
	MQTTPassword  string `env:"MQTT_PASSWORD"`
}

// S3Config configures the best-effort raw audio upload target.
type S3Config struct {
	Bucket        string        `env:"BUCKET"`
	Prefix        string        `env:"PREFIX" envDefault:"raw-audio"`
	Region        string        `env:"REGION" envDefault:"us-east-1"`
	Endpoint      string        `env:"ENDPOINT"`
	AccessKey     string        `env:"ACCESS_KEY"`
	SecretKey     string        `env:"SECRET_KEY"`
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" envDefault:"15m"`
}

// Enabled reports whether the upload side channel is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile      string
	HTTPAddr     string
	LogLevel     string
	AnalyzerURL  string
	ArtifactsDir string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.AnalyzerURL != "" {
		cfg.AnalyzerURL = overrides.AnalyzerURL
	}
	if overrides.ArtifactsDir != "" {
		cfg.ArtifactsDir = overrides.ArtifactsDir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.QuestionDuration <= 0 {
		return fmt.Errorf("QUESTION_DURATION must be positive, got %s", c.QuestionDuration)
	}
	if c.QuestionCount < 1 {
		return fmt.Errorf("QUESTION_COUNT must be >= 1, got %d", c.QuestionCount)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.GainBoost <= 0 {
		return fmt.Errorf("CAPTURE_GAIN_BOOST must be positive, got %f", c.GainBoost)
	}
	return nil
}
