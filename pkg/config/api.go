package config

import "time"

// APIConfig holds runtime configuration for the SiteSmith API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	TokenEncryptionKey string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration

	// Model provider settings for generation and repair calls.
	ModelBaseURL   string
	ModelAPIKey    string
	ModelName      string
	GenerateBudget time.Duration
	DeadlineMargin time.Duration

	// Verification sandbox settings.
	VerifyWorkdir    string
	VerifySandbox    string
	SandboxImage     string
	DockerHost       string
	InstallTimeout   time.Duration
	BuildTimeout     time.Duration
	MaxFixIterations int

	// PublicAPIURL is the externally reachable base URL of this API; preview
	// banners call back to it. AppURL is the authoring frontend.
	PublicAPIURL string
	AppURL       string

	// Hosting provider settings for publish and preview deployments.
	HostingAPIURL     string
	HostingToken      string
	HostingTeamID     string
	PublishDomain     string
	DeployPollEvery   time.Duration
	DeployPollCeiling time.Duration

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://sitesmith:sitesmith@db:5432/sitesmith?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		TokenEncryptionKey: GetString("TOKEN_ENCRYPTION_KEY", "supersecuresecret"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTokenTTL:    time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour,

		ModelBaseURL:   GetString("MODEL_BASE_URL", ""),
		ModelAPIKey:    GetString("MODEL_API_KEY", ""),
		ModelName:      GetString("MODEL_NAME", "gpt-4o"),
		GenerateBudget: time.Duration(GetInt("GENERATE_BUDGET_SECONDS", 540)) * time.Second,
		DeadlineMargin: time.Duration(GetInt("DEADLINE_MARGIN_SECONDS", 30)) * time.Second,

		VerifyWorkdir:    GetString("VERIFY_WORKDIR", "/tmp/sitesmith"),
		VerifySandbox:    GetString("VERIFY_SANDBOX", "exec"),
		SandboxImage:     GetString("SANDBOX_IMAGE", "node:20-alpine"),
		DockerHost:       GetString("DOCKER_HOST", ""),
		InstallTimeout:   time.Duration(GetInt("INSTALL_TIMEOUT_SECONDS", 120)) * time.Second,
		BuildTimeout:     time.Duration(GetInt("BUILD_TIMEOUT_SECONDS", 180)) * time.Second,
		MaxFixIterations: GetInt("MAX_FIX_ITERATIONS", 3),

		PublicAPIURL: GetString("PUBLIC_API_URL", "http://localhost:4000"),
		AppURL:       GetString("APP_URL", "http://localhost:3000"),

		HostingAPIURL:     GetString("HOSTING_API_URL", "https://api.vercel.com"),
		HostingToken:      GetString("HOSTING_TOKEN", ""),
		HostingTeamID:     GetString("HOSTING_TEAM_ID", ""),
		PublishDomain:     GetString("PUBLISH_DOMAIN", "sitesmith.app"),
		DeployPollEvery:   time.Duration(GetInt("DEPLOY_POLL_SECONDS", 3)) * time.Second,
		DeployPollCeiling: time.Duration(GetInt("DEPLOY_POLL_CEILING_SECONDS", 120)) * time.Second,

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
