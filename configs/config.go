package configs

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"eiobot/internal/bus"
	"eiobot/internal/bus/nats"
	"eiobot/internal/bus/redis"
	"eiobot/internal/conn"
	"eiobot/internal/handlers"
	"eiobot/internal/logger"
	"eiobot/internal/session"
	"eiobot/internal/utils"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 EIOBOT_AUTH_CREDENTIAL
const EnvPrefix = "EIOBOT"

type Auth struct {
	Identity   string `mapstructure:"identity"`
	Credential string `mapstructure:"credential"`
}

type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type Relay struct {
	BusType string       `mapstructure:"bus_type"` // 消息总线类型: "nats", "redis", "noop"
	NATS    nats.Config  `mapstructure:"nats"`
	Redis   redis.Config `mapstructure:"redis"`

	handlers.RelayConfig `mapstructure:",squash"`
}

type Reconnect struct {
	Backoff     utils.BackoffConfig `mapstructure:"backoff"`
	MaxAttempts int                 `mapstructure:"max_attempts"` // 0 表示不限次数
}

type Features struct {
	LogEvents []string `mapstructure:"log_events"`
}

type Config struct {
	Client     session.Config `mapstructure:"client"`
	Connection conn.Config    `mapstructure:"connection"`
	Auth       Auth           `mapstructure:"auth"`
	Log        logger.Config  `mapstructure:"log"`
	Metrics    Metrics        `mapstructure:"metrics"`
	Relay      Relay          `mapstructure:"relay"`
	Reconnect  Reconnect      `mapstructure:"reconnect"`
	Features   Features       `mapstructure:"features"`
	Version    string         `mapstructure:"version"`
}

// NewDefaultConfig creates a new Config with default values
func NewDefaultConfig() Config {
	config := Config{}

	config.Client = session.DefaultConfig()
	config.Connection = conn.DefaultConfig()
	config.Log = logger.DefaultConfig()

	config.Metrics.Enabled = true
	config.Metrics.Addr = ":9102"

	// 默认不转发
	config.Relay.BusType = bus.TypeNoop
	config.Relay.NATS = nats.DefaultConfig()
	config.Relay.Redis = redis.DefaultConfig()
	config.Relay.PublishTimeout = 2 * time.Second
	config.Relay.BreakerMaxFailures = 5
	config.Relay.BreakerTimeout = 30 * time.Second

	config.Reconnect.Backoff = utils.BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}

	config.Version = "dev"
	return config
}

// Validate 检查启动客户端所需的最少配置
func (c *Config) Validate() error {
	if c.Client.BaseURL == "" {
		return errors.New("config: client.base_url is required")
	}
	if c.Auth.Identity == "" {
		return errors.New("config: auth.identity is required")
	}
	switch c.Relay.BusType {
	case bus.TypeNoop, bus.TypeRedis, bus.TypeNats, "":
	default:
		return fmt.Errorf("config: unsupported relay.bus_type %q", c.Relay.BusType)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("config: reconnect.max_attempts must not be negative")
	}
	return nil
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configFile)

	// 支持环境变量
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 凭证通常不写进配置文件，AutomaticEnv 只覆盖已知的键
	for _, key := range []string{"client.base_url", "auth.identity", "auth.credential", "log.level", "relay.bus_type"} {
		_ = v.BindEnv(key)
	}
	return v
}

// LoadConfig loads configuration from the specified file.
// 文件不存在时使用默认值与环境变量；onChange 不为nil时监听文件变化。
func LoadConfig(configFile string, onChange func(Config)) (Config, error) {
	v := newViper(configFile)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		slog.Warn("failed to read config file, using defaults", "file", configFile, "error", err)
		fileLoaded = false
	}

	config := NewDefaultConfig()
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if fileLoaded && onChange != nil {
		SetupConfigHotReload(v, onChange)
	}
	return config, nil
}

// SetupConfigHotReload sets up hot reload for the configuration file.
// 每次变更都解析出新的 Config 交给 onChange，解析失败时保留旧配置。
func SetupConfigHotReload(v *viper.Viper, onChange func(Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		slog.Info("config file changed", "file", e.Name, "op", e.Op.String())

		config := NewDefaultConfig()
		if err := v.Unmarshal(&config); err != nil {
			slog.Error("failed to unmarshal updated config", "error", err)
			return
		}
		onChange(config)
		slog.Info("config reloaded")
	})
	v.WatchConfig()
}
