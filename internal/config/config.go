package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServiceConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// Retries enables GET retries with exponential backoff when > 1.
	Retries int `mapstructure:"retries"`
}

type Config struct {
	HTTP struct {
		Addr        string   `mapstructure:"addr"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"http"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Database struct {
		Driver   string `mapstructure:"driver"`
		DSN      string `mapstructure:"dsn"`
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	MQTT struct {
		BrokerURL string `mapstructure:"broker_url"`
		ClientID  string `mapstructure:"client_id"`
		Prefix    string `mapstructure:"prefix"`
	} `mapstructure:"mqtt"`
	Webhook struct {
		Secret   string            `mapstructure:"secret"`
		RPS      int               `mapstructure:"rps"`
		Burst    int               `mapstructure:"burst"`
		Timeout  time.Duration     `mapstructure:"timeout"`
		Triggers map[string]string `mapstructure:"triggers"`
		Nodes    map[string]string `mapstructure:"nodes"`
	} `mapstructure:"webhook"`
	Services struct {
		Media       ServiceConfig `mapstructure:"media"`
		Content     ServiceConfig `mapstructure:"content"`
		AI          ServiceConfig `mapstructure:"ai"`
		SearchCache time.Duration `mapstructure:"search_cache"`
	} `mapstructure:"services"`
	OpenAI struct {
		BaseURL string        `mapstructure:"base_url"`
		APIKey  string        `mapstructure:"api_key"`
		Model   string        `mapstructure:"model"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"openai"`
	Rules struct {
		Dir      string `mapstructure:"dir"`
		Builtins bool   `mapstructure:"builtins"`
	} `mapstructure:"rules"`
	Engine struct {
		ReloadEvery time.Duration `mapstructure:"reload_every"`
		PruneEvery  time.Duration `mapstructure:"prune_every"`
		Retention   time.Duration `mapstructure:"retention"`
	} `mapstructure:"engine"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8095")
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "beyflow")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "beyflow")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.prefix", "beyflow")

	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.rps", 5)
	v.SetDefault("webhook.burst", 10)
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.triggers", map[string]string{})
	v.SetDefault("webhook.nodes", map[string]string{})

	v.SetDefault("services.media.base_url", "http://localhost:8000")
	v.SetDefault("services.content.base_url", "http://localhost:8888")
	v.SetDefault("services.ai.base_url", "http://localhost:3001")
	for _, s := range []string{"media", "content", "ai"} {
		v.SetDefault("services."+s+".poll_interval", 10*time.Second)
		v.SetDefault("services."+s+".timeout", 10*time.Second)
		v.SetDefault("services."+s+".retries", 0)
	}
	v.SetDefault("services.search_cache", 5*time.Minute)

	v.SetDefault("openai.base_url", "https://api.openai.com")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 30*time.Second)

	v.SetDefault("rules.dir", "")
	v.SetDefault("rules.builtins", true)

	v.SetDefault("engine.reload_every", 10*time.Second)
	v.SetDefault("engine.prune_every", time.Hour)
	v.SetDefault("engine.retention", 30*24*time.Hour)

	v.SetDefault("otlp_endpoint", "")
}

// Load reads defaults, then the optional YAML file at path, then the
// environment. Nested keys map to env names with dots replaced by
// underscores (services.media.base_url -> SERVICES_MEDIA_BASE_URL).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("otlp_endpoint", "OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
