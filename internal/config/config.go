package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// DefaultSystemPrompt is used when neither SYSTEM_PROMPT nor SYSTEM_PROMPT_FILE is set.
const DefaultSystemPrompt = `You are a friendly, professional AI assistant that answers questions about AGI Open Network (AON).
Knowledge base:

1. AI Agent: a software entity driven by artificial intelligence that performs tasks autonomously, makes decisions, and interacts with users or other systems to reach specific goals.

2. Why AI Agents need crypto:
- decentralized, secure infrastructure
- smart contracts for task execution
- secure micro-transactions
- shared ownership
- transparent financial interactions

3. AON vision and mission:
Vision: make AI agents valuable assets that generate revenue across consumer applications.
Mission: build an open platform where anyone can develop, deploy and monetize AI Agents and AI Models.

4. AON product modules:
- AI Model API platform (3000+ open source models)
- AI compute aggregator
- AI Agent launch platform (IAO)
- AI Model launch platform (IMO)
- Web3 SDK (MPC, PayFi)

5. Users:
Professional developers use the platform's models and compute.
Non-professional developers use no-code templates.

6. Monetization:
- IAO (Initial Agent Offering): AI Agent token issuance
- IMO (Initial Model Offering): AI Model token issuance

Answer accurately and concisely from this knowledge. If a question falls outside it, say honestly that you are not sure.`

// Config holds configuration for the bot process.
type Config struct {
	Commander        string        `env:"AONBOT_COMMANDER" envDefault:"telegram"`
	TelegramBotToken string        `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL   string        `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	PollTimeout      int           `env:"TG_TIMEOUT" envDefault:"30"`
	SleepSeconds     int           `env:"TG_SLEEP_SECONDS" envDefault:"1"`
	BotName          string        `env:"BOT_NAME"`
	MaxConcurrency   int           `env:"AONBOT_MAX_CONCURRENCY" envDefault:"8"`
	ModelProvider    string        `env:"AONBOT_MODEL_PROVIDER" envDefault:"openai"`
	APIToken         string        `env:"API_TOKEN"`
	APIURL           string        `env:"API_URL"`
	ModelName        string        `env:"MODEL_NAME"`
	APITimeout       time.Duration `env:"API_TIMEOUT" envDefault:"60s"`
	MaxTurns         int           `env:"MAX_TURNS" envDefault:"11"`
	SystemPrompt     string        `env:"SYSTEM_PROMPT"`
	SystemPromptFile string        `env:"SYSTEM_PROMPT_FILE"`
	RollbackOnError  bool          `env:"ROLLBACK_ON_ERROR" envDefault:"false"`
	StoreBackend     string        `env:"STORE_BACKEND" envDefault:"memory"`
	DBPath           string        `env:"AONBOT_DB_PATH" envDefault:"data/aonbot.db"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFile          string        `env:"LOG_FILE"`
	ErrorLogFile     string        `env:"ERROR_LOG_FILE"`
	DummyProvider    string        `env:"AONBOT_DUMMY_PROVIDER_SCRIPT" envDefault:"echo"`
	DummyCommander   string        `env:"AONBOT_DUMMY_COMMANDER_SCRIPT" envDefault:"sleep:1000"`
	DummySend        string        `env:"AONBOT_DUMMY_COMMANDER_SEND_SCRIPT" envDefault:"ok"`
}

// TelegramAPIBase is the bot-scoped API root, e.g. https://api.telegram.org/bot<token>.
func (c Config) TelegramAPIBase() string {
	return strings.TrimRight(c.TelegramAPIURL, "/") + "/bot" + c.TelegramBotToken
}

// Load reads .env (if present) and the environment, then validates.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.SystemPrompt == "" && cfg.SystemPromptFile != "" {
		data, err := os.ReadFile(cfg.SystemPromptFile)
		if err != nil {
			return Config{}, fmt.Errorf("SYSTEM_PROMPT_FILE: %w", err)
		}
		cfg.SystemPrompt = strings.TrimSpace(string(data))
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Commander {
	case "telegram":
		if c.TelegramBotToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when AONBOT_COMMANDER=telegram")
		}
	case "dummy":
	default:
		return fmt.Errorf("AONBOT_COMMANDER must be telegram or dummy, got %q", c.Commander)
	}

	switch c.ModelProvider {
	case "openai":
		required := []struct{ name, value string }{
			{"API_URL", c.APIURL},
			{"API_TOKEN", c.APIToken},
			{"MODEL_NAME", c.ModelName},
		}
		for _, r := range required {
			if r.value == "" {
				return fmt.Errorf("%s is required in environment when AONBOT_MODEL_PROVIDER=openai", r.name)
			}
		}
	case "dummy":
	default:
		return fmt.Errorf("AONBOT_MODEL_PROVIDER must be openai or dummy, got %q", c.ModelProvider)
	}

	switch c.StoreBackend {
	case "memory":
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("AONBOT_DB_PATH is required when STORE_BACKEND=sqlite")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be memory or sqlite, got %q", c.StoreBackend)
	}

	if c.MaxTurns < 3 {
		return fmt.Errorf("MAX_TURNS must be at least 3 (system turn plus one exchange), got %d", c.MaxTurns)
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be positive, got %s", c.APITimeout)
	}
	if c.PollTimeout < 0 {
		return fmt.Errorf("TG_TIMEOUT must not be negative, got %d", c.PollTimeout)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("AONBOT_MAX_CONCURRENCY must be at least 1, got %d", c.MaxConcurrency)
	}
	return nil
}
