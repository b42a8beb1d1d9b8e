package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Zitadel      ZitadelConfig
	Gateway      GatewayConfig
	RateLimit    RateLimitConfig
	Suno         SunoConfig
	Image        MediaProviderConfig
	Video        MediaProviderConfig
	Credits      CreditsConfig
	Groq         GroqConfig
	R2           R2Config
	Orchestrator OrchestratorConfig
	Pricing      PricingConfig
	CLI          CLIConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	GeneratePerHour int
	AssistantPerMin int
}

type SunoConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// MediaProviderConfig describes a remote job API that speaks the generic
// submit/status contract (image and video providers).
type MediaProviderConfig struct {
	APIKey     string
	BaseURL    string
	SubmitPath string
	StatusPath string
}

type CreditsConfig struct {
	ServiceURL  string
	APIKey      string
	DevBalance  int
	PurchaseURL string
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type OrchestratorConfig struct {
	Namespace        string
	PollInterval     time.Duration
	Timeout          time.Duration
	Cooldown         time.Duration
	FailureSkipDelay time.Duration
	ExpectedDuration time.Duration
	SnapshotTTL      time.Duration
	LeaseTTL         time.Duration
}

type PricingConfig struct {
	SongBase           int
	SongWordThreshold  int
	SongWordsPerStep   int
	SongCreditsPerStep int
	ImageFlat          int
	VideoFlat          int
}

type CLIConfig struct {
	DBPath    string
	SessionID string
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	readSecret("REDIS_PASSWORD")
	readSecret("SUNO_API_KEY")
	readSecret("IMAGE_API_KEY")
	readSecret("VIDEO_API_KEY")
	readSecret("CREDITS_API_KEY")
	readSecret("GROQ_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("JWT_SECRET")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":                     "SERVER_PORT",
		"server.env":                      "SERVER_ENV",
		"server.log_level":                "LOG_LEVEL",
		"server.api_domain":               "API_DOMAIN",
		"redis.addr":                      "REDIS_ADDR",
		"redis.password":                  "REDIS_PASSWORD",
		"redis.db":                        "REDIS_DB",
		"jwt.secret":                      "JWT_SECRET",
		"zitadel.domain":                  "ZITADEL_DOMAIN",
		"zitadel.client_id":               "ZITADEL_CLIENT_ID",
		"zitadel.issuer":                  "ZITADEL_ISSUER",
		"gateway.enabled":                 "GATEWAY_ENABLED",
		"ratelimit.generate_per_hour":     "RATELIMIT_GENERATE_PER_HOUR",
		"ratelimit.assistant_per_min":     "RATELIMIT_ASSISTANT_PER_MIN",
		"suno.api_key":                    "SUNO_API_KEY",
		"suno.base_url":                   "SUNO_BASE_URL",
		"suno.model":                      "SUNO_MODEL",
		"image.api_key":                   "IMAGE_API_KEY",
		"image.base_url":                  "IMAGE_BASE_URL",
		"video.api_key":                   "VIDEO_API_KEY",
		"video.base_url":                  "VIDEO_BASE_URL",
		"credits.service_url":             "CREDITS_SERVICE_URL",
		"credits.api_key":                 "CREDITS_API_KEY",
		"credits.dev_balance":             "CREDITS_DEV_BALANCE",
		"credits.purchase_url":            "CREDITS_PURCHASE_URL",
		"groq.api_key":                    "GROQ_API_KEY",
		"groq.base_url":                   "GROQ_BASE_URL",
		"groq.model":                      "GROQ_MODEL",
		"r2.account_id":                   "R2_ACCOUNT_ID",
		"r2.access_key_id":                "R2_ACCESS_KEY_ID",
		"r2.secret_access_key":            "R2_SECRET_ACCESS_KEY",
		"r2.bucket_name":                  "R2_BUCKET_NAME",
		"r2.public_url":                   "R2_PUBLIC_URL",
		"orchestrator.poll_interval":      "ORCHESTRATOR_POLL_INTERVAL",
		"orchestrator.timeout":            "ORCHESTRATOR_TIMEOUT",
		"orchestrator.cooldown":           "ORCHESTRATOR_COOLDOWN",
		"orchestrator.failure_skip_delay": "ORCHESTRATOR_FAILURE_SKIP_DELAY",
		"cli.db_path":                     "STUDIOCTL_DB",
		"cli.session_id":                  "STUDIOCTL_SESSION",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.generate_per_hour", 20)
	v.SetDefault("ratelimit.assistant_per_min", 30)

	v.SetDefault("suno.base_url", "https://api.sunoapi.org")
	v.SetDefault("suno.model", "V4_5")
	v.SetDefault("image.submit_path", "/v1/jobs")
	v.SetDefault("image.status_path", "/v1/jobs/status")
	v.SetDefault("video.submit_path", "/v1/jobs")
	v.SetDefault("video.status_path", "/v1/jobs/status")

	v.SetDefault("credits.dev_balance", 1000)
	v.SetDefault("credits.purchase_url", "/pricing")

	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")

	v.SetDefault("orchestrator.namespace", "studio:orchestrator")
	v.SetDefault("orchestrator.poll_interval", 5*time.Second)
	v.SetDefault("orchestrator.timeout", 10*time.Minute)
	v.SetDefault("orchestrator.cooldown", 5*time.Minute)
	v.SetDefault("orchestrator.failure_skip_delay", 5*time.Second)
	v.SetDefault("orchestrator.expected_duration", 3*time.Minute)
	v.SetDefault("orchestrator.snapshot_ttl", 24*time.Hour)
	v.SetDefault("orchestrator.lease_ttl", 30*time.Minute)

	v.SetDefault("pricing.song_base", 80)
	v.SetDefault("pricing.song_word_threshold", 200)
	v.SetDefault("pricing.song_words_per_step", 10)
	v.SetDefault("pricing.song_credits_per_step", 5)
	v.SetDefault("pricing.image_flat", 10)
	v.SetDefault("pricing.video_flat", 100)

	v.SetDefault("cli.db_path", "")
	v.SetDefault("cli.session_id", "local")

	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			ApiDomain: v.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: v.GetInt("ratelimit.generate_per_hour"),
			AssistantPerMin: v.GetInt("ratelimit.assistant_per_min"),
		},
		Suno: SunoConfig{
			APIKey:  v.GetString("suno.api_key"),
			BaseURL: v.GetString("suno.base_url"),
			Model:   v.GetString("suno.model"),
		},
		Image: MediaProviderConfig{
			APIKey:     v.GetString("image.api_key"),
			BaseURL:    v.GetString("image.base_url"),
			SubmitPath: v.GetString("image.submit_path"),
			StatusPath: v.GetString("image.status_path"),
		},
		Video: MediaProviderConfig{
			APIKey:     v.GetString("video.api_key"),
			BaseURL:    v.GetString("video.base_url"),
			SubmitPath: v.GetString("video.submit_path"),
			StatusPath: v.GetString("video.status_path"),
		},
		Credits: CreditsConfig{
			ServiceURL:  v.GetString("credits.service_url"),
			APIKey:      v.GetString("credits.api_key"),
			DevBalance:  v.GetInt("credits.dev_balance"),
			PurchaseURL: v.GetString("credits.purchase_url"),
		},
		Groq: GroqConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Orchestrator: OrchestratorConfig{
			Namespace:        v.GetString("orchestrator.namespace"),
			PollInterval:     v.GetDuration("orchestrator.poll_interval"),
			Timeout:          v.GetDuration("orchestrator.timeout"),
			Cooldown:         v.GetDuration("orchestrator.cooldown"),
			FailureSkipDelay: v.GetDuration("orchestrator.failure_skip_delay"),
			ExpectedDuration: v.GetDuration("orchestrator.expected_duration"),
			SnapshotTTL:      v.GetDuration("orchestrator.snapshot_ttl"),
			LeaseTTL:         v.GetDuration("orchestrator.lease_ttl"),
		},
		Pricing: PricingConfig{
			SongBase:           v.GetInt("pricing.song_base"),
			SongWordThreshold:  v.GetInt("pricing.song_word_threshold"),
			SongWordsPerStep:   v.GetInt("pricing.song_words_per_step"),
			SongCreditsPerStep: v.GetInt("pricing.song_credits_per_step"),
			ImageFlat:          v.GetInt("pricing.image_flat"),
			VideoFlat:          v.GetInt("pricing.video_flat"),
		},
		CLI: CLIConfig{
			DBPath:    v.GetString("cli.db_path"),
			SessionID: v.GetString("cli.session_id"),
		},
	}

	return cfg, nil
}

// IsDevelopment reports whether the server runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Env, "development")
}
