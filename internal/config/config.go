package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/EthanQC/verification-service/internal/adapters/out/aliyun"
	"github.com/EthanQC/verification-service/internal/adapters/out/httpsms"
	"github.com/EthanQC/verification-service/pkg/zlog"
)

const envPrefix = "VERIFY"

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type VerificationConfig struct {
	CodeLength             int  `mapstructure:"code_length"`
	ExpirationMinutes      int  `mapstructure:"expiration_minutes"`
	CooldownSeconds        int  `mapstructure:"cooldown_seconds"`
	MaxRetries             int  `mapstructure:"max_retries"`
	MaxAttemptsPerHour     int  `mapstructure:"max_attempts_per_hour"`
	CleanupIntervalMinutes int  `mapstructure:"cleanup_interval_minutes"`
	DevMode                bool `mapstructure:"dev_mode"` // 响应中返回验证码明文，生产环境禁止打开
}

func (v VerificationConfig) Expiration() time.Duration {
	return time.Duration(v.ExpirationMinutes) * time.Minute
}

func (v VerificationConfig) Cooldown() time.Duration {
	return time.Duration(v.CooldownSeconds) * time.Second
}

func (v VerificationConfig) CleanupInterval() time.Duration {
	return time.Duration(v.CleanupIntervalMinutes) * time.Minute
}

type MockChannelConfig struct {
	FailureRate float64       `mapstructure:"failure_rate"`
	MinLatency  time.Duration `mapstructure:"min_latency"`
	MaxLatency  time.Duration `mapstructure:"max_latency"`
}

type DeliveryConfig struct {
	Channel   string            `mapstructure:"channel"` // mock|aliyun|http
	Timeout   time.Duration     `mapstructure:"timeout"`
	BaseDelay time.Duration     `mapstructure:"base_delay"`
	MaxDelay  time.Duration     `mapstructure:"max_delay"`
	Template  string            `mapstructure:"template"`
	Mock      MockChannelConfig `mapstructure:"mock"`
	Aliyun    aliyun.Config     `mapstructure:"aliyun"`
	HTTP      httpsms.Config    `mapstructure:"http"`
}

type StoreConfig struct {
	Durable        string        `mapstructure:"durable"` // mysql|redis|none
	Timeout        time.Duration `mapstructure:"timeout"`
	AutoMigrate    bool          `mapstructure:"auto_migrate"`
	RedisRetention time.Duration `mapstructure:"redis_retention"`
}

type MySQLConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type EventsConfig struct {
	Driver  string   `mapstructure:"driver"` // none|kafka-go|sarama
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Verification VerificationConfig `mapstructure:"verification"`
	Delivery     DeliveryConfig     `mapstructure:"delivery"`
	Store        StoreConfig        `mapstructure:"store"`
	MySQL        MySQLConfig        `mapstructure:"mysql"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Events       EventsConfig       `mapstructure:"events"`
	Log          zlog.Config        `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8085)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("verification.code_length", 6)
	v.SetDefault("verification.expiration_minutes", 5)
	v.SetDefault("verification.cooldown_seconds", 60)
	v.SetDefault("verification.max_retries", 3)
	v.SetDefault("verification.max_attempts_per_hour", 5)
	v.SetDefault("verification.cleanup_interval_minutes", 10)
	v.SetDefault("verification.dev_mode", false)

	v.SetDefault("delivery.channel", "mock")
	v.SetDefault("delivery.timeout", 8*time.Second)
	v.SetDefault("delivery.base_delay", time.Second)
	v.SetDefault("delivery.max_delay", 30*time.Second)
	v.SetDefault("delivery.template", "SMS_VERIFY")
	v.SetDefault("delivery.mock.failure_rate", 0.0)
	v.SetDefault("delivery.mock.min_latency", 100*time.Millisecond)
	v.SetDefault("delivery.mock.max_latency", 500*time.Millisecond)
	v.SetDefault("delivery.aliyun.region", "cn-hangzhou")
	v.SetDefault("delivery.aliyun.access_key_id", "")
	v.SetDefault("delivery.aliyun.access_key_secret", "")
	v.SetDefault("delivery.aliyun.sign_name", "")
	v.SetDefault("delivery.http.url", "")
	v.SetDefault("delivery.http.api_key", "")
	v.SetDefault("delivery.http.sender", "")

	v.SetDefault("store.durable", "mysql")
	v.SetDefault("store.timeout", 2*time.Second)
	v.SetDefault("store.auto_migrate", true)
	v.SetDefault("store.redis_retention", time.Hour)

	v.SetDefault("mysql.dsn", "")
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.max_open_conns", 50)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("events.driver", "none")
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "verification.events")

	zlog.SetDefaults(v, "log")
	v.SetDefault("log.service", "verification-service")
}

// Load 依次读取默认值、configs/config.<env>.yaml（可选）、.env 和 VERIFY_ 前缀的环境变量
func Load(env string, paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./configs", "../configs", "../../configs"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	vc := c.Verification
	if vc.CodeLength < 4 || vc.CodeLength > 10 {
		return fmt.Errorf("配置错误：verification.code_length 必须在 4 到 10 之间")
	}
	if vc.ExpirationMinutes <= 0 || vc.CooldownSeconds <= 0 || vc.MaxRetries <= 0 ||
		vc.MaxAttemptsPerHour <= 0 || vc.CleanupIntervalMinutes <= 0 {
		return fmt.Errorf("配置错误：verification 下的数值必须为正数")
	}

	switch c.Delivery.Channel {
	case "mock":
	case "aliyun":
		if c.Delivery.Aliyun.AccessKeyID == "" || c.Delivery.Aliyun.AccessKeySecret == "" {
			return fmt.Errorf("配置错误：delivery.channel=aliyun 时必须配置 access key")
		}
	case "http":
		if c.Delivery.HTTP.URL == "" {
			return fmt.Errorf("配置错误：delivery.channel=http 时 delivery.http.url 不能为空")
		}
	default:
		return fmt.Errorf("配置错误：delivery.channel 只能是 mock/aliyun/http")
	}
	if c.Delivery.Timeout <= 0 || c.Delivery.BaseDelay <= 0 || c.Delivery.MaxDelay < c.Delivery.BaseDelay {
		return fmt.Errorf("配置错误：delivery 超时与退避参数不合法")
	}

	switch c.Store.Durable {
	case "mysql":
		if c.MySQL.DSN == "" {
			return fmt.Errorf("配置错误：store.durable=mysql 时 mysql.dsn 不能为空")
		}
	case "redis", "none":
	default:
		return fmt.Errorf("配置错误：store.durable 只能是 mysql/redis/none")
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("配置错误：store.timeout 必须为正数")
	}

	switch c.Events.Driver {
	case "none":
	case "kafka-go", "sarama":
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("配置错误：events.driver=%s 时 events.brokers 不能为空", c.Events.Driver)
		}
	default:
		return fmt.Errorf("配置错误：events.driver 只能是 none/kafka-go/sarama")
	}

	return c.Log.Validate()
}
