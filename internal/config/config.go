package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Instance InstanceConfig
	SOT      SOTConfig
	Clone    CloneConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Port      string
	Mode      string
	JWTSecret string
	RateLimit float64
	RateBurst int
}

type DatabaseConfig struct {
	Driver         string
	URL            string
	MaxConnections int
	MaxIdleConns   int
	MigrateOnStart bool
}

type RedisConfig struct {
	URL       string
	QueueName string
}

type NATSConfig struct {
	URL string
}

// InstanceConfig identifies the instance this process runs for.
type InstanceConfig struct {
	ID               string
	Type             string
	TenantID         string
	Name             string
	BlueprintVersion string
	CallbackURL      string
	ToolsSupported   []string
}

type SOTConfig struct {
	URL             string
	AuthToken       string
	CheckInInterval time.Duration
	Timeout         time.Duration
	FreshnessWindow time.Duration
}

type CloneConfig struct {
	ProvisioningTimeout    time.Duration
	SweepInterval          time.Duration
	PendingRedispatchAfter time.Duration
	WorkerCount            int
}

type MetricsConfig struct {
	RemoteWriteURL string
	OrgHeader      string
	DefaultOrg     string
	BatchSize      int
	FlushInterval  time.Duration
	AuthToken      string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.ratelimit", 20.0)
	v.SetDefault("server.rateburst", 40)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.maxconnections", 25)
	v.SetDefault("database.maxidleconns", 5)
	v.SetDefault("database.migrateonstart", true)
	v.SetDefault("redis.queuename", "clone_jobs")
	v.SetDefault("instance.type", "client_site")
	v.SetDefault("instance.blueprintversion", "1.0.0")
	v.SetDefault("sot.checkininterval", "30m")
	v.SetDefault("sot.timeout", "10s")
	v.SetDefault("sot.freshnesswindow", "24h")
	v.SetDefault("clone.provisioningtimeout", "15m")
	v.SetDefault("clone.sweepinterval", "1m")
	v.SetDefault("clone.pendingredispatchafter", "5m")
	v.SetDefault("clone.workercount", 4)
	v.SetDefault("metrics.orgheader", "X-Scope-OrgID")
	v.SetDefault("metrics.defaultorg", "blueprint-sot")
	v.SetDefault("metrics.batchsize", 1000)
	v.SetDefault("metrics.flushinterval", "15s")
}

// Load reads config.yaml from . or ./config, then BLUEPRINT_* environment
// variables, then the unprefixed connection URLs used by the deployment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("BLUEPRINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"server.jwtsecret", "database.url", "redis.url", "nats.url",
		"instance.id", "instance.tenantid", "instance.name", "instance.callbackurl",
		"instance.toolssupported", "sot.url", "sot.authtoken",
		"metrics.remotewriteurl", "metrics.authtoken",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if url := os.Getenv("SOT_URL"); url != "" {
		cfg.SOT.URL = url
	}
	if token := os.Getenv("SOT_AUTH_TOKEN"); token != "" {
		cfg.SOT.AuthToken = token
	}

	// Comma-separated env values arrive as a single element.
	if len(cfg.Instance.ToolsSupported) == 1 && strings.Contains(cfg.Instance.ToolsSupported[0], ",") {
		cfg.Instance.ToolsSupported = splitList(cfg.Instance.ToolsSupported[0])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.SOT.Timeout <= 0 {
		return fmt.Errorf("sot.timeout must be positive")
	}
	if c.SOT.FreshnessWindow <= 0 {
		return fmt.Errorf("sot.freshnesswindow must be positive")
	}
	if c.Clone.ProvisioningTimeout <= 0 {
		return fmt.Errorf("clone.provisioningtimeout must be positive")
	}
	if c.Clone.WorkerCount <= 0 {
		c.Clone.WorkerCount = 1
	}
	return nil
}
