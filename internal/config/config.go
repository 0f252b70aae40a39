package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"StayRelay/internal/auth"
	"StayRelay/pkg/logger"
)

// EnvPrefix 是环境变量覆盖的前缀，例如 STAYRELAY_SERVER_ADDRESS。
const EnvPrefix = "STAYRELAY"

// Config 描述了 StayRelay 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Session  SessionConfig  `mapstructure:"session"`
	Registry RegistryConfig `mapstructure:"registry"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Web3     Web3Config     `mapstructure:"web3"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  logger.Config  `mapstructure:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `mapstructure:"address"`
	// PublicURL 写入路由自身的代理卡片。
	PublicURL   string `mapstructure:"public_url"`
	MetricsAddr string `mapstructure:"metrics_address"`
}

// LLMConfig 选择意图分类器的实现。
type LLMConfig struct {
	// Provider 取值 openai、command 或 heuristic。
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
	OpenAI   OpenAIConfig  `mapstructure:"openai"`
	Command  CommandConfig `mapstructure:"command"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// CommandConfig 描述通过外部进程完成分类时所需的信息。
type CommandConfig struct {
	Executable string   `mapstructure:"executable"`
	Args       []string `mapstructure:"args"`
	WorkingDir string   `mapstructure:"working_dir"`
}

// CatalogConfig 选择酒店目录后端。
type CatalogConfig struct {
	Driver   string      `mapstructure:"driver"`
	SeedFile string      `mapstructure:"seed_file"`
	MySQL    MySQLConfig `mapstructure:"mysql"`
}

// MySQLConfig 是 MySQL 后端的连接信息。
type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SessionConfig 控制会话记忆。
type SessionConfig struct {
	Driver string              `mapstructure:"driver"`
	Window int                 `mapstructure:"window"`
	Memory MemorySessionConfig `mapstructure:"memory"`
	Redis  RedisConfig         `mapstructure:"redis"`
}

// MemorySessionConfig 限制内存会话存储的会话数与空闲时长。
type MemorySessionConfig struct {
	MaxContexts int           `mapstructure:"max_contexts"`
	IdleTTL     time.Duration `mapstructure:"idle_ttl"`
}

// RedisConfig 是 Redis 会话存储的连接信息。
type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RegistryConfig 指向静态代理列表文件。
type RegistryConfig struct {
	File          string        `mapstructure:"file"`
	HeaderTimeout time.Duration `mapstructure:"header_timeout"`
}

// TasksConfig 选择任务记录后端。Capacity 只对内存驱动生效。
type TasksConfig struct {
	Driver    string          `mapstructure:"driver"`
	Capacity  int             `mapstructure:"capacity"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// RetentionConfig 控制持久化任务的定期清理，MaxAge 为 0 时不清理。
type RetentionConfig struct {
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址，为空时不生成支付报价。
type Web3Config struct {
	RPCURL      string        `mapstructure:"rpc_url"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// NotifyConfig 选择领域事件的投递方式。
type NotifyConfig struct {
	Driver   string         `mapstructure:"driver"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

// RabbitMQConfig 是 RabbitMQ 投递参数。
type RabbitMQConfig struct {
	URL     string `mapstructure:"url"`
	Queue   string `mapstructure:"queue"`
	Durable bool   `mapstructure:"durable"`
}

// AlertingConfig 配置告警渠道。
type AlertingConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// AuthConfig 控制写接口的令牌认证。AdminToken 拥有全部权限，便于通过环境变量配置。
type AuthConfig struct {
	Mode       string       `mapstructure:"mode"`
	AdminToken string       `mapstructure:"admin_token"`
	Tokens     []auth.Token `mapstructure:"tokens"`
	JWT        JWTConfig    `mapstructure:"jwt"`
}

// JWTConfig 是 jwt 模式下的校验参数。
type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

// Load 解析指定路径的 JSON 或 YAML 配置文件，path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	baseDir := "."
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.resolvePaths(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults 在用户未填写部分字段时设置合理的默认值。环境变量只覆盖有默认值的键。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.metrics_address", "")

	v.SetDefault("llm.provider", "heuristic")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.base_url", "")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.max_retries", 2)
	v.SetDefault("llm.command.executable", "")
	v.SetDefault("llm.command.working_dir", "")

	v.SetDefault("catalog.driver", "memory")
	v.SetDefault("catalog.seed_file", "")
	v.SetDefault("catalog.mysql.dsn", "")
	v.SetDefault("catalog.mysql.max_open_conns", 10)
	v.SetDefault("catalog.mysql.max_idle_conns", 5)
	v.SetDefault("catalog.mysql.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("catalog.mysql.auto_migrate", true)

	v.SetDefault("session.driver", "memory")
	v.SetDefault("session.window", 10)
	v.SetDefault("session.memory.max_contexts", 10000)
	v.SetDefault("session.memory.idle_ttl", 24*time.Hour)
	v.SetDefault("session.redis.address", "")
	v.SetDefault("session.redis.password", "")
	v.SetDefault("session.redis.db", 0)
	v.SetDefault("session.redis.prefix", "stayrelay:session:")
	v.SetDefault("session.redis.ttl", 24*time.Hour)

	v.SetDefault("registry.file", "")
	v.SetDefault("registry.header_timeout", 30*time.Second)

	v.SetDefault("tasks.driver", "memory")
	v.SetDefault("tasks.capacity", 1000)
	v.SetDefault("tasks.mysql.dsn", "")
	v.SetDefault("tasks.mysql.max_open_conns", 10)
	v.SetDefault("tasks.mysql.max_idle_conns", 5)
	v.SetDefault("tasks.mysql.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("tasks.mysql.auto_migrate", true)
	v.SetDefault("tasks.retention.schedule", "@hourly")
	v.SetDefault("tasks.retention.max_age", 7*24*time.Hour)

	v.SetDefault("web3.rpc_url", "")
	v.SetDefault("web3.call_timeout", 10*time.Second)

	v.SetDefault("notify.driver", "memory")
	v.SetDefault("notify.rabbitmq.url", "")
	v.SetDefault("notify.rabbitmq.queue", "stayrelay.events")
	v.SetDefault("notify.rabbitmq.durable", true)

	v.SetDefault("alerting.webhook_url", "")

	v.SetDefault("auth.mode", "disabled")
	v.SetDefault("auth.admin_token", "")
	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "stayrelay")
	v.SetDefault("auth.jwt.audience", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.audit.enabled", false)
	v.SetDefault("logging.audit.path", "")
	v.SetDefault("logging.audit.max_size_mb", 100)
}

// AuthTokens 合并 AdminToken 与显式配置的令牌。
func (c AuthConfig) AuthTokens() []auth.Token {
	tokens := append([]auth.Token(nil), c.Tokens...)
	if secret := strings.TrimSpace(c.AdminToken); secret != "" {
		tokens = append(tokens, auth.Token{Name: "admin", Secret: secret, Permissions: []string{auth.PermAll}})
	}
	return tokens
}

// AuthService 按配置构造认证服务。
func (c AuthConfig) AuthService() (*auth.Service, error) {
	return auth.NewService(auth.Config{
		Mode:   auth.Mode(c.Mode),
		Tokens: c.AuthTokens(),
		JWT: auth.JWTOptions{
			Secret:   c.JWT.Secret,
			Issuer:   c.JWT.Issuer,
			Audience: c.JWT.Audience,
		},
	})
}

// resolvePaths 把相对路径解释为相对配置文件所在目录。
func (c *Config) resolvePaths(baseDir string) {
	c.Catalog.SeedFile = resolve(baseDir, c.Catalog.SeedFile)
	c.Registry.File = resolve(baseDir, c.Registry.File)
	c.LLM.Command.WorkingDir = resolve(baseDir, c.LLM.Command.WorkingDir)
	c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 检查互相依赖的字段。
func (c *Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case "heuristic":
	case "openai":
		if strings.TrimSpace(c.LLM.OpenAI.APIKey) == "" {
			errs = append(errs, errors.New("llm.openai.api_key 不能为空"))
		}
	case "command":
		if strings.TrimSpace(c.LLM.Command.Executable) == "" {
			errs = append(errs, errors.New("llm.command.executable 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的 llm.provider: %q", c.LLM.Provider))
	}

	switch c.Catalog.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Catalog.MySQL.DSN) == "" {
			errs = append(errs, errors.New("catalog.mysql.dsn 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的 catalog.driver: %q", c.Catalog.Driver))
	}

	switch c.Tasks.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Tasks.MySQL.DSN) == "" {
			errs = append(errs, errors.New("tasks.mysql.dsn 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的 tasks.driver: %q", c.Tasks.Driver))
	}

	switch c.Session.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Session.Redis.Address) == "" {
			errs = append(errs, errors.New("session.redis.address 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的 session.driver: %q", c.Session.Driver))
	}

	switch c.Notify.Driver {
	case "memory", "none":
	case "rabbitmq":
		if strings.TrimSpace(c.Notify.RabbitMQ.URL) == "" {
			errs = append(errs, errors.New("notify.rabbitmq.url 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的 notify.driver: %q", c.Notify.Driver))
	}

	switch c.Auth.Mode {
	case "disabled":
	case "token":
		if strings.TrimSpace(c.Auth.AdminToken) == "" && len(c.Auth.Tokens) == 0 {
			errs = append(errs, errors.New("auth.admin_token 或 auth.tokens 至少配置一项"))
		}
	case "jwt":
		if strings.TrimSpace(c.Auth.JWT.Secret) == "" {
			errs = append(errs, errors.New("auth.jwt.secret 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的 auth.mode: %q", c.Auth.Mode))
	}

	if c.Session.Window <= 0 {
		errs = append(errs, errors.New("session.window 必须为正数"))
	}
	return errors.Join(errs...)
}
