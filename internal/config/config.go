package config

import (
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Upstream AI provider
	ProviderBaseURL string
	ProviderAPIKey  string

	// Distributed cancel (optional)
	NatsURL string

	// Conversation lifecycle
	ConversationIdleTTL   time.Duration
	ConversationSweepSpec string // cron spec for the idle sweep

	// HTTP client
	ProviderRequestTimeout time.Duration

	// Server
	ServerShutdownTimeoutSeconds int

	// CORS
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string

	// Assistant prompt configuration (from the YAML config file)
	Assistant *AssistantConfig `yaml:"assistant"`
}

// AssistantConfig holds the model and prompt templates for the assistant.
// Prompt templates are keyed by analysis type; an unknown type falls back
// to the default prompt.
type AssistantConfig struct {
	Model           string            `yaml:"model"`
	DefaultPrompt   string            `yaml:"default_prompt"`
	AnalysisPrompts map[string]string `yaml:"analysis_prompts"`
}

var AppConfig *Config

func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// Provider
		ProviderBaseURL: getEnvOrDefault("PROVIDER_BASE_URL", "https://api.openai.com/v1"),
		ProviderAPIKey:  getEnvOrDefault("PROVIDER_API_KEY", ""),

		// NATS
		NatsURL: getEnvOrDefault("NATS_URL", ""),

		// Conversation lifecycle
		ConversationIdleTTL:   getEnvAsDuration("CONVERSATION_IDLE_TTL", 30*time.Minute),
		ConversationSweepSpec: getEnvOrDefault("CONVERSATION_SWEEP_SPEC", "@every 5m"),

		// HTTP client
		ProviderRequestTimeout: getEnvAsDuration("PROVIDER_REQUEST_TIMEOUT", 10*time.Minute),

		// Server
		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		// CORS
		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// Load prompt templates from the configuration file when present.
	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")

	configFile, err := os.Open(configFilePath)
	if err != nil {
		log.Printf("Config file %s not found, using built-in assistant defaults", configFilePath)
		AppConfig.Assistant = DefaultAssistantConfig()
		return
	}
	defer configFile.Close()

	if err := LoadConfigFile(configFile, AppConfig); err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	if AppConfig.Assistant == nil {
		AppConfig.Assistant = DefaultAssistantConfig()
	}
	if AppConfig.Assistant.Model == "" {
		AppConfig.Assistant.Model = DefaultAssistantConfig().Model
	}
	if AppConfig.Assistant.DefaultPrompt == "" {
		AppConfig.Assistant.DefaultPrompt = DefaultAssistantConfig().DefaultPrompt
	}

	if AppConfig.ProviderAPIKey == "" {
		log.Println("Warning: Provider API key is missing. Please set PROVIDER_API_KEY environment variable.")
	}
}

// DefaultAssistantConfig returns the built-in prompt configuration used when
// no config file is present.
func DefaultAssistantConfig() *AssistantConfig {
	return &AssistantConfig{
		Model: "gpt-4o-mini",
		DefaultPrompt: "You are the AdPulse assistant. You help marketers understand " +
			"their ads performance data. Answer concisely and ground every claim in the " +
			"metrics provided in the conversation.",
		AnalysisPrompts: map[string]string{
			"performance": "You are the AdPulse assistant. Analyze the campaign performance " +
				"metrics in this conversation: CTR, CPC, conversions and spend trends. " +
				"Call out anomalies and week-over-week changes.",
			"budget": "You are the AdPulse assistant. Review budget pacing and allocation " +
				"across the campaigns discussed. Flag overspend risks and reallocation " +
				"opportunities.",
			"audience": "You are the AdPulse assistant. Evaluate audience segment performance " +
				"and suggest targeting adjustments backed by the segment metrics provided.",
		},
	}
}

// PromptFor resolves the system prompt for an analysis type.
// Empty or unknown types fall back to the default prompt.
func (a *AssistantConfig) PromptFor(analysisType string) string {
	if analysisType != "" {
		if prompt, ok := a.AnalysisPrompts[analysisType]; ok && prompt != "" {
			return prompt
		}
	}
	return a.DefaultPrompt
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}
