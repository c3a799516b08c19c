package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	JobsDir  string         `mapstructure:"jobs_dir"`
	Log      LogConfig      `mapstructure:"log"`
	Resource ResourceConfig `mapstructure:"resource"`
	Stages   StagesConfig   `mapstructure:"stages"`
	Database DatabaseConfig `mapstructure:"database"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// TenantConfig describes one GPU-resident model-serving process.
type TenantConfig struct {
	URL          string        `mapstructure:"url"`
	Model        string        `mapstructure:"model"`
	Container    string        `mapstructure:"container"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
}

type ResourceConfig struct {
	// HTTPTimeout bounds every sleep/wake request.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	// HealthTimeout bounds a single health probe.
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	// PollInterval is the health polling cadence while waiting for tenants.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// ReleaseSettle is the delay after stopping tenants before the GPU
	// memory is assumed released. Tunable, not a hidden assumption.
	ReleaseSettle time.Duration `mapstructure:"release_settle"`
	// StopTimeout is the grace period given to a container on stop.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`

	Tenants map[string]TenantConfig `mapstructure:"tenants"`
}

// StageCommandConfig holds the argv and time budget for one external engine.
type StageCommandConfig struct {
	Command []string      `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StagesConfig struct {
	Extract StageCommandConfig `mapstructure:"extract"`
	Graph   GraphStageConfig   `mapstructure:"graph"`
}

type GraphStageConfig struct {
	Command []string      `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Endpoints baked into the generated engine settings file.
	APIKey     string `mapstructure:"api_key"`
	EntityBase string `mapstructure:"entity_base"`
	ChatBase   string `mapstructure:"chat_base"`
	EmbedBase  string `mapstructure:"embed_base"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	Path        string `mapstructure:"path"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	Name        string `mapstructure:"name"`
	SSLMode     string `mapstructure:"ssl_mode"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`

	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	}
	return c.Path
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for deployment overrides
	v.BindEnv("jobs_dir", "INDEXER_JOBS_DIR")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
	v.BindEnv("log.file", "LOG_FILE")
	v.BindEnv("stages.graph.api_key", "GRAPHRAG_API_KEY")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.password", "DATABASE_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("jobs_dir", "./data/indexer_jobs")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("resource.http_timeout", "30s")
	v.SetDefault("resource.health_timeout", "5s")
	v.SetDefault("resource.poll_interval", "2s")
	v.SetDefault("resource.release_settle", "2s")
	v.SetDefault("resource.stop_timeout", "10s")

	// Default tenant set matches the deployment's compose service names.
	v.SetDefault("resource.tenants.entity.url", "http://vllm-llm:8000")
	v.SetDefault("resource.tenants.entity.model", "LiquidAI/LFM2-1.2B-Extract")
	v.SetDefault("resource.tenants.entity.container", "vllm-llm")
	v.SetDefault("resource.tenants.entity.start_timeout", "120s")
	v.SetDefault("resource.tenants.chat.url", "http://vllm-chat:8000")
	v.SetDefault("resource.tenants.chat.model", "Qwen/Qwen2.5-7B-Instruct")
	v.SetDefault("resource.tenants.chat.container", "vllm-chat")
	v.SetDefault("resource.tenants.chat.start_timeout", "120s")
	v.SetDefault("resource.tenants.embed.url", "http://vllm-embed:8000")
	v.SetDefault("resource.tenants.embed.model", "BAAI/bge-m3")
	v.SetDefault("resource.tenants.embed.container", "vllm-embed")
	v.SetDefault("resource.tenants.embed.start_timeout", "60s")

	v.SetDefault("stages.extract.command", []string{"python", "-m", "docqa_extract"})
	v.SetDefault("stages.extract.timeout", "1h")
	v.SetDefault("stages.graph.command", []string{"python", "-m", "graphrag.index"})
	v.SetDefault("stages.graph.timeout", "2h")
	v.SetDefault("stages.graph.api_key", "ollama")
	v.SetDefault("stages.graph.entity_base", "http://lfm2-adapter:8002/v1")
	v.SetDefault("stages.graph.chat_base", "http://vllm-chat:8000/v1")
	v.SetDefault("stages.graph.embed_base", "http://vllm-embed:8000/v1")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/index.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "1h")
}
