package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
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
	RateLimit    RateLimitConfig
	Groq         GroqConfig
	R2           R2Config
	OIDC         OIDCConfig
	Gateway      GatewayConfig
	Processor    ProcessorConfig
	Poll         PollConfig
	Orchestrator OrchestratorConfig
	Merge        MergeConfig
	Effects      EffectsConfig
	Worker       WorkerConfig
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
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	JobsPerHour     int
	CaptionsPerMin  int
	ExportPerHour   int
	CampaignsPerMin int
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

// OIDCConfig describes the external identity provider whose tokens are accepted
type OIDCConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

// ProcessorConfig points the console at the remote job processor
type ProcessorConfig struct {
	URL   string
	Token string
}

type PollConfig struct {
	SubmissionInterval time.Duration
	CampaignInterval   time.Duration
	ListInterval       time.Duration
	MaxAttempts        int           // 0 = unlimited
	MaxDuration        time.Duration // 0 = unlimited
	Push               bool          // observe over the websocket feed instead of polling
}

type OrchestratorConfig struct {
	RemoveAfter time.Duration
}

type MergeConfig struct {
	BatchSize     int
	WarnThreshold int
}

type EffectsConfig struct {
	BaseURL string
}

type WorkerConfig struct {
	Concurrency int
	StepDelay   time.Duration
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("GROQ_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("OIDC_CLIENT_ID")
	readSecret("JWT_SECRET")
	readSecret("PROCESSOR_TOKEN")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.api_domain", "API_DOMAIN")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("groq.api_key", "GROQ_API_KEY")
	_ = v.BindEnv("groq.base_url", "GROQ_BASE_URL")
	_ = v.BindEnv("groq.model", "GROQ_MODEL")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("oidc.domain", "OIDC_DOMAIN")
	_ = v.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = v.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = v.BindEnv("processor.url", "PROCESSOR_URL")
	_ = v.BindEnv("processor.token", "PROCESSOR_TOKEN")
	_ = v.BindEnv("poll.submission_interval", "POLL_SUBMISSION_INTERVAL")
	_ = v.BindEnv("poll.campaign_interval", "POLL_CAMPAIGN_INTERVAL")
	_ = v.BindEnv("poll.list_interval", "POLL_LIST_INTERVAL")
	_ = v.BindEnv("poll.max_attempts", "POLL_MAX_ATTEMPTS")
	_ = v.BindEnv("poll.max_duration", "POLL_MAX_DURATION")
	_ = v.BindEnv("poll.push", "POLL_PUSH")
	_ = v.BindEnv("orchestrator.remove_after", "ORCHESTRATOR_REMOVE_AFTER")
	_ = v.BindEnv("merge.batch_size", "MERGE_BATCH_SIZE")
	_ = v.BindEnv("merge.warn_threshold", "MERGE_WARN_THRESHOLD")
	_ = v.BindEnv("effects.base_url", "EFFECTS_BASE_URL")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("worker.step_delay", "WORKER_STEP_DELAY")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("ratelimit.jobs_per_hour", 60)
	v.SetDefault("ratelimit.captions_per_min", 30)
	v.SetDefault("ratelimit.export_per_hour", 20)
	v.SetDefault("ratelimit.campaigns_per_min", 60)

	// Groq defaults
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")

	// Gateway defaults
	v.SetDefault("gateway.enabled", false)

	// Console defaults
	v.SetDefault("processor.url", "http://localhost:8000")
	v.SetDefault("poll.submission_interval", "2s")
	v.SetDefault("poll.campaign_interval", "3s")
	v.SetDefault("poll.list_interval", "5s")
	v.SetDefault("poll.max_attempts", 0)
	v.SetDefault("poll.max_duration", "0s")
	v.SetDefault("poll.push", false)
	v.SetDefault("orchestrator.remove_after", "5s")
	v.SetDefault("merge.batch_size", 250)
	v.SetDefault("merge.warn_threshold", 1000)
	v.SetDefault("effects.base_url", "https://res.cloudinary.com/demo/video/upload")

	// Worker defaults
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.step_delay", "500ms")

	// Try to read config file (optional)
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
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			JobsPerHour:     v.GetInt("ratelimit.jobs_per_hour"),
			CaptionsPerMin:  v.GetInt("ratelimit.captions_per_min"),
			ExportPerHour:   v.GetInt("ratelimit.export_per_hour"),
			CampaignsPerMin: v.GetInt("ratelimit.campaigns_per_min"),
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
		OIDC: OIDCConfig{
			Domain:   v.GetString("oidc.domain"),
			ClientID: v.GetString("oidc.client_id"),
			Issuer:   v.GetString("oidc.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		Processor: ProcessorConfig{
			URL:   v.GetString("processor.url"),
			Token: v.GetString("processor.token"),
		},
		Poll: PollConfig{
			SubmissionInterval: v.GetDuration("poll.submission_interval"),
			CampaignInterval:   v.GetDuration("poll.campaign_interval"),
			ListInterval:       v.GetDuration("poll.list_interval"),
			MaxAttempts:        v.GetInt("poll.max_attempts"),
			MaxDuration:        v.GetDuration("poll.max_duration"),
			Push:               v.GetBool("poll.push"),
		},
		Orchestrator: OrchestratorConfig{
			RemoveAfter: v.GetDuration("orchestrator.remove_after"),
		},
		Merge: MergeConfig{
			BatchSize:     v.GetInt("merge.batch_size"),
			WarnThreshold: v.GetInt("merge.warn_threshold"),
		},
		Effects: EffectsConfig{
			BaseURL: v.GetString("effects.base_url"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
			StepDelay:   v.GetDuration("worker.step_delay"),
		},
	}

	return cfg, nil
}
