package config

import "os"

type Config struct {
	XClientID          string
	XClientSecret      string
	XRedirectURI       string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	PostgresURI        string
	RedisURI           string
	FrontendURL        string
	SecretKey          string
	CookieName         string
	CronSecret         string
	Environment        string
	SweepSchedule      string
}

func LoadConfig() *Config {
	return &Config{
		XClientID:          getEnv("X_CLIENT_ID", ""),
		XClientSecret:      getEnv("X_CLIENT_SECRET", ""),
		XRedirectURI:       getEnv("X_REDIRECT_URI", "http://localhost:3000/auth/x/callback"),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", "http://localhost:3000/login/callback"),
		PostgresURI:        getEnv("POSTGRES_URI", ""),
		RedisURI:           getEnv("REDIS_URI", ""),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:5173"),
		SecretKey:          getEnv("SECRET_KEY", ""),
		CookieName:         getEnv("COOKIE_NAME", "distributo_session"),
		CronSecret:         getEnv("CRON_SECRET", ""),
		Environment:        getEnv("ENVIRONMENT", "development"),
		SweepSchedule:      getEnv("SWEEP_SCHEDULE", "@every 00h05m00s"),
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
