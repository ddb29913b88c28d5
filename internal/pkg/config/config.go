// internal/pkg/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是服务的完整配置，分为业务配置 (App) 和基础设施配置 (Infra)。
type Config struct {
	App   AppConfig   `yaml:"app"`
	Infra InfraConfig `yaml:"infra"`
}

type AppConfig struct {
	ServiceName string `yaml:"service_name"`
	LogLevel    string `yaml:"log_level"`
	Port        int    `yaml:"port"`

	// HoldTTL 是一次结账预占的有效期，过期后库存会被释放。
	HoldTTL  time.Duration `yaml:"hold_ttl"`
	Currency string        `yaml:"currency"`

	// LedgerBackend 选择库存计数器的存储: "mysql" 或 "redis"。
	LedgerBackend string `yaml:"ledger_backend"`

	Policy       PolicyConfig       `yaml:"policy"`
	Reaper       ReaperConfig       `yaml:"reaper"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	StatusStream StatusStreamConfig `yaml:"status_stream"`
}

// PolicyConfig 是下单限购规则 (CEL 表达式)。
type PolicyConfig struct {
	LineRules []string `yaml:"line_rules"`
	HoldRules []string `yaml:"hold_rules"`
}

type ReaperConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	// UseLock 开启后多个副本通过 ZooKeeper 错开扫描，仅用于减少无效竞争。
	UseLock bool `yaml:"use_lock"`
}

type GatewayConfig struct {
	BaseURL        string        `yaml:"base_url"`
	KeyID          string        `yaml:"key_id"`
	KeySecret      string        `yaml:"key_secret"`
	WebhookSecret  string        `yaml:"webhook_secret"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

type StatusStreamConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type InfraConfig struct {
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type MySQLConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	HoldEventsTopic string   `yaml:"hold_events_topic"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
	DataID      string `yaml:"data_id"`
}

// Default 返回一份可以直接在本地运行的默认配置。
func Default() *Config {
	return &Config{
		App: AppConfig{
			ServiceName:   "checkout-service",
			LogLevel:      "info",
			Port:          8080,
			HoldTTL:       15 * time.Minute,
			Currency:      "INR",
			LedgerBackend: "mysql",
			Reaper: ReaperConfig{
				Enabled:   true,
				Interval:  60 * time.Second,
				BatchSize: 200,
			},
			Gateway: GatewayConfig{
				BaseURL:        "https://api.razorpay.com",
				Timeout:        5 * time.Second,
				MaxAttempts:    3,
				InitialBackoff: 500 * time.Millisecond,
			},
			StatusStream: StatusStreamConfig{PollInterval: 2 * time.Second},
		},
		Infra: InfraConfig{
			MySQL: MySQLConfig{
				Host:         "localhost",
				Port:         3306,
				User:         "root",
				Database:     "sabzar",
				MaxOpenConns: 50,
				AutoMigrate:  true,
			},
			Redis:  RedisConfig{Addr: "localhost:6379"},
			Kafka:  KafkaConfig{Brokers: []string{"localhost:9092"}, HoldEventsTopic: "hold-events"},
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			Zookeeper: ZookeeperConfig{
				Servers:        []string{"localhost:2181"},
				SessionTimeout: 5 * time.Second,
			},
			Nacos: NacosConfig{
				ServerAddrs: "localhost:8848",
				Group:       "DEFAULT_GROUP",
				DataID:      "checkout-service.yaml",
			},
		},
	}
}

// Load 读取 YAML 配置文件，文件不存在时使用默认配置，最后应用环境变量覆盖。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config %s", path)
			}
		case os.IsNotExist(err):
			// 允许只依赖默认值和环境变量启动
		default:
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge 将一段 YAML (例如来自 Nacos 配置中心) 覆盖到当前配置上。
func (c *Config) Merge(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, "merge remote config")
	}
	applyEnv(c)
	return c.Validate()
}

// Validate 校验关键配置项。
func (c *Config) Validate() error {
	if c.App.HoldTTL <= 0 {
		return fmt.Errorf("app.hold_ttl must be positive, got %v", c.App.HoldTTL)
	}
	switch c.App.LedgerBackend {
	case "mysql", "redis":
	default:
		return fmt.Errorf("app.ledger_backend must be mysql or redis, got %q", c.App.LedgerBackend)
	}
	if c.App.Reaper.Enabled && c.App.Reaper.Interval <= 0 {
		return fmt.Errorf("app.reaper.interval must be positive")
	}
	if c.App.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("app.gateway.max_attempts must be at least 1")
	}
	return nil
}

// applyEnv 使用环境变量覆盖配置，密钥类配置只应通过环境变量注入。
func applyEnv(c *Config) {
	setString(&c.App.LogLevel, "LOG_LEVEL")
	setInt(&c.App.Port, "HTTP_PORT")
	setString(&c.App.LedgerBackend, "LEDGER_BACKEND")
	setString(&c.App.Gateway.BaseURL, "RAZORPAY_BASE_URL")
	setString(&c.App.Gateway.KeyID, "RAZORPAY_KEY_ID")
	setString(&c.App.Gateway.KeySecret, "RAZORPAY_KEY_SECRET")
	setString(&c.App.Gateway.WebhookSecret, "RAZORPAY_WEBHOOK_SECRET")

	setString(&c.Infra.MySQL.Host, "MYSQL_HOST")
	setInt(&c.Infra.MySQL.Port, "MYSQL_PORT")
	setString(&c.Infra.MySQL.User, "MYSQL_USER")
	setString(&c.Infra.MySQL.Password, "MYSQL_PASSWORD")
	setString(&c.Infra.MySQL.Database, "MYSQL_DATABASE")
	setString(&c.Infra.Redis.Addr, "REDIS_ADDR")
	setString(&c.Infra.Redis.Password, "REDIS_PASSWORD")
	setList(&c.Infra.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&c.Infra.Jaeger.Endpoint, "JAEGER_ENDPOINT")
	setList(&c.Infra.Zookeeper.Servers, "ZOOKEEPER_SERVERS")
	setString(&c.Infra.Nacos.ServerAddrs, "NACOS_SERVER_ADDRS")
	setString(&c.Infra.Nacos.Namespace, "NACOS_NAMESPACE")
	setString(&c.Infra.Nacos.Group, "NACOS_GROUP")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setList(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = strings.Split(v, ",")
	}
}

var current atomic.Pointer[Config]

// SetCurrentConfig 发布当前生效的配置。
func SetCurrentConfig(c *Config) {
	current.Store(c)
}

// GetCurrentConfig 返回当前生效的配置，未设置时返回默认配置。
func GetCurrentConfig() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	return Default()
}
