package config

import "os"

type Config struct {
	ListenAddr      string
	DBPath          string
	PreviewPath     string
	AnalysisBackend string
	OpenRouterModel string
	AnthropicModel  string
	AnthropicAPIKey string
	OpenRouterKey   string
	ImgBBKey        string
	LogLevel        string
	LogFormat       string
	LogFile         string
}

func Load() *Config {
	return &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		DBPath:          getEnv("DB_PATH", "/data/promptlens.db"),
		PreviewPath:     getEnv("PREVIEW_PATH", "/data/previews"),
		AnalysisBackend: getEnv("ANALYSIS_BACKEND", "openrouter"),
		OpenRouterModel: getEnv("OPENROUTER_MODEL", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		// Seed keys: copied into the settings store on first start if no
		// credentials row exists yet.
		OpenRouterKey: getEnv("OPENROUTER_API_KEY", ""),
		ImgBBKey:      getEnv("IMGBB_API_KEY", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		LogFile:       getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}
