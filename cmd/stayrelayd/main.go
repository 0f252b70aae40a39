package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"StayRelay/internal/agent"
	"StayRelay/internal/api"
	"StayRelay/internal/auth"
	"StayRelay/internal/catalog"
	"StayRelay/internal/config"
	"StayRelay/internal/dispatch"
	"StayRelay/internal/llm"
	"StayRelay/internal/llm/command"
	"StayRelay/internal/llm/heuristic"
	"StayRelay/internal/llm/openai"
	"StayRelay/internal/notify"
	"StayRelay/internal/observability/alerting"
	"StayRelay/internal/observability/metrics"
	"StayRelay/internal/registry"
	"StayRelay/internal/session"
	storagemysql "StayRelay/internal/storage/mysql"
	"StayRelay/internal/task"
	"StayRelay/internal/web3"
	"StayRelay/internal/web3/ethereum"
	"StayRelay/pkg/logger"
)

// main 是 StayRelay 守护进程的入口。
func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Args[2:]); err != nil {
			log.Fatalf("签发令牌失败: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("stayrelayd 运行失败: %v", err)
	}
}

// loadConfig 先加载 .env，再读取 STAYRELAY_CONFIG 或 configs/stayrelay.yaml。
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}

	configPath := os.Getenv("STAYRELAY_CONFIG")
	if configPath == "" {
		if candidate := filepath.Join("configs", "stayrelay.yaml"); fileExists(candidate) {
			configPath = candidate
		}
	}
	return config.Load(configPath)
}

// issueToken 实现 `stayrelayd token` 子命令，在 jwt 模式下为运维签发访问令牌。
func issueToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "令牌主体名称")
	perms := fs.String("perms", auth.PermAll, "逗号分隔的权限列表")
	ttl := fs.Duration("ttl", 24*time.Hour, "有效期")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := cfg.Auth.AuthService()
	if err != nil {
		return err
	}
	var permissions []string
	for _, perm := range strings.Split(*perms, ",") {
		if perm = strings.TrimSpace(perm); perm != "" {
			permissions = append(permissions, perm)
		}
	}
	token, err := svc.IssueToken(*subject, permissions, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("stayrelayd")

	classifier, err := createClassifier(cfg)
	if err != nil {
		return err
	}

	hotels, err := createCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer hotels.Close()

	sessions, err := createSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer sessions.Close()

	publisher, err := createPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
	}

	var entries []registry.Entry
	if cfg.Registry.File != "" {
		entries, err = registry.LoadFile(cfg.Registry.File)
		if err != nil {
			return err
		}
	}
	httpClient := dispatch.DefaultHTTPClient()
	if transport, ok := httpClient.Transport.(*http.Transport); ok && cfg.Registry.HeaderTimeout > 0 {
		transport.ResponseHeaderTimeout = cfg.Registry.HeaderTimeout
	}
	agents, err := registry.New(dispatch.NewFactory(httpClient), entries...)
	if err != nil {
		return err
	}

	tasks, err := createTaskStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer tasks.Close()
	if pruner, ok := tasks.(task.Pruner); ok && cfg.Tasks.Retention.MaxAge > 0 {
		retention, err := task.NewRetention(pruner, cfg.Tasks.Retention.Schedule, cfg.Tasks.Retention.MaxAge)
		if err != nil {
			return err
		}
		retention.Start(ctx)
	}

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}

	opts := []agent.Option{
		agent.WithSessionStore(sessions),
		agent.WithDispatcher(dispatch.NewDispatcher(agents)),
		agent.WithTaskStore(tasks),
		agent.WithAlerts(alerting.NewFanout(notifiers...)),
		agent.WithLLMTimeout(cfg.LLM.Timeout),
	}
	if publisher != nil {
		opts = append(opts, agent.WithPublisher(publisher))
	}

	ledger, err := createLedger(ctx, cfg)
	if err != nil {
		return err
	}
	if ledger != nil {
		defer ledger.Close()
		opts = append(opts, agent.WithLedger(ledger))
	}

	router := agent.New(classifier, hotels, opts...)

	authService, err := cfg.Auth.AuthService()
	if err != nil {
		return err
	}

	serverOpts := []api.Option{
		api.WithRegistry(agents),
		api.WithCatalog(hotels),
		api.WithTaskStore(tasks),
		api.WithAgentCard(api.DefaultAgentCard(cfg.Server.PublicURL)),
		api.WithAuth(authService),
	}
	if publisher != nil {
		serverOpts = append(serverOpts, api.WithPublisher(publisher))
	}
	server := api.NewServer(cfg.Server.Address, router, serverOpts...)

	if cfg.Server.MetricsAddr != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddr); err != nil && !errors.Is(err, context.Canceled) {
				lg.Warn("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	lg.Info("StayRelay 启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("llm", cfg.LLM.Provider),
		slog.String("catalog", cfg.Catalog.Driver),
		slog.String("session", cfg.Session.Driver),
		slog.String("tasks", cfg.Tasks.Driver),
		slog.String("notify", cfg.Notify.Driver),
		slog.String("auth", string(authService.Mode())),
		slog.Int("agents", agents.Len()))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createClassifier(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "heuristic":
		return heuristic.NewClient(), nil
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:     cfg.LLM.OpenAI.APIKey,
			BaseURL:    cfg.LLM.OpenAI.BaseURL,
			Model:      cfg.LLM.OpenAI.Model,
			Timeout:    cfg.LLM.Timeout,
			MaxRetries: cfg.LLM.OpenAI.MaxRetries,
		})
	case "command":
		return command.NewClient(cfg.LLM.Command.Executable, cfg.LLM.Command.Args, cfg.LLM.Command.WorkingDir, cfg.LLM.Timeout)
	default:
		return nil, fmt.Errorf("未知的分类器 provider: %s", cfg.LLM.Provider)
	}
}

func createCatalog(ctx context.Context, cfg *config.Config) (catalog.Store, error) {
	var seed []catalog.Hotel
	if cfg.Catalog.SeedFile != "" {
		hotels, err := catalog.LoadFile(cfg.Catalog.SeedFile)
		if err != nil {
			return nil, err
		}
		seed = hotels
	}

	switch cfg.Catalog.Driver {
	case "", "memory":
		return catalog.NewMemoryStore(seed), nil
	case "mysql":
		store, err := catalog.NewMySQLStore(ctx, catalog.MySQLConfig{
			DSN:             cfg.Catalog.MySQL.DSN,
			MaxOpenConns:    cfg.Catalog.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Catalog.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Catalog.MySQL.ConnMaxLifetime,
			AutoMigrate:     cfg.Catalog.MySQL.AutoMigrate,
		})
		if err != nil {
			return nil, err
		}
		if len(seed) > 0 {
			if err := store.Ingest(ctx, catalog.DefaultNamespace, seed); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的目录驱动: %s", cfg.Catalog.Driver)
	}
}

func createTaskStore(ctx context.Context, cfg *config.Config) (task.Store, error) {
	switch cfg.Tasks.Driver {
	case "", "memory":
		return task.NewMemoryStore(cfg.Tasks.Capacity), nil
	case "mysql":
		db, err := storagemysql.Open(ctx, storagemysql.Config{
			DSN:             cfg.Tasks.MySQL.DSN,
			MaxOpenConns:    cfg.Tasks.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Tasks.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Tasks.MySQL.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Tasks.MySQL.AutoMigrate {
			if err := storagemysql.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return task.NewMySQLStore(db), nil
	default:
		return nil, fmt.Errorf("未知的任务驱动: %s", cfg.Tasks.Driver)
	}
}

func createSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Driver {
	case "", "memory":
		return session.NewMemoryStore(cfg.Session.Window,
			session.WithMaxContexts(cfg.Session.Memory.MaxContexts),
			session.WithIdleTTL(cfg.Session.Memory.IdleTTL)), nil
	case "redis":
		return session.NewRedisStore(ctx, session.RedisConfig{
			Address:  cfg.Session.Redis.Address,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
			Prefix:   cfg.Session.Redis.Prefix,
			Window:   cfg.Session.Window,
			TTL:      cfg.Session.Redis.TTL,
		})
	default:
		return nil, fmt.Errorf("未知的会话驱动: %s", cfg.Session.Driver)
	}
}

// createPublisher 返回 nil 表示不发布领域事件。内存发布器由本进程消费并写入日志。
func createPublisher(ctx context.Context, cfg *config.Config) (notify.Publisher, error) {
	switch cfg.Notify.Driver {
	case "none":
		return nil, nil
	case "", "memory":
		publisher := notify.NewMemoryPublisher(0)
		events := logger.Named("notify")
		go func() {
			_ = publisher.Consume(ctx, 1, func(_ context.Context, event notify.Event) error {
				events.Info("领域事件",
					slog.String("id", event.ID),
					slog.String("type", event.Type),
					slog.String("task_id", event.TaskID),
					slog.String("context_id", event.ContextID))
				return nil
			})
		}()
		return publisher, nil
	case "rabbitmq":
		return notify.NewRabbitMQPublisher(notify.RabbitMQConfig{
			URL:     cfg.Notify.RabbitMQ.URL,
			Queue:   cfg.Notify.RabbitMQ.Queue,
			Durable: cfg.Notify.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Notify.Driver)
	}
}

// createLedger 在未配置 RPC 时返回 nil，预订只生成价格不生成支付报价。
func createLedger(ctx context.Context, cfg *config.Config) (web3.Client, error) {
	if cfg.Web3.RPCURL == "" {
		return nil, nil
	}
	return ethereum.NewClient(ctx, ethereum.Config{
		RPCURL:      cfg.Web3.RPCURL,
		CallTimeout: cfg.Web3.CallTimeout,
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
