package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"StayRelay/internal/agent"
	"StayRelay/internal/auth"
	"StayRelay/internal/catalog"
	"StayRelay/internal/notify"
	"StayRelay/internal/observability/metrics"
	"StayRelay/internal/registry"
	"StayRelay/internal/stream"
	"StayRelay/internal/task"
	"StayRelay/pkg/logger"
)

// Executor 是 API 需要的任务执行能力。
type Executor interface {
	Execute(ctx context.Context, req agent.TaskRequest, sink stream.Sink) (*agent.Outcome, error)
}

// Server 负责暴露 HTTP 接口，供外部提交任务与管理代理。
type Server struct {
	addr      string
	executor  Executor
	registry  *registry.Registry
	catalog   catalog.Store
	tasks     task.Store
	publisher notify.Publisher
	card      AgentCard
	auth      *auth.Service
	log       *slog.Logger
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithRegistry 设置代理注册表，用于发现与动态注册。
func WithRegistry(reg *registry.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithCatalog 设置动态注册时写入的酒店目录。
func WithCatalog(store catalog.Store) Option {
	return func(s *Server) {
		s.catalog = store
	}
}

// WithTaskStore 设置任务记录存储。
func WithTaskStore(store task.Store) Option {
	return func(s *Server) {
		s.tasks = store
	}
}

// WithPublisher 设置领域事件发布器。
func WithPublisher(publisher notify.Publisher) Option {
	return func(s *Server) {
		s.publisher = publisher
	}
}

// WithAgentCard 设置路由自身的代理卡片。
func WithAgentCard(card AgentCard) Option {
	return func(s *Server) {
		s.card = card
	}
}

// WithAuth 为注册与取消等写操作启用令牌认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, executor Executor, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		executor: executor,
		card:     DefaultAgentCard(""),
		log:      logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /message/stream", s.handleMessageStream)
	s.route(mux, "GET /api/v1/agents", s.handleListAgents)
	s.route(mux, "POST /api/v1/agents", s.guard("agent.register", auth.PermAgentsWrite, s.handleRegisterAgent))
	s.route(mux, "GET /api/v1/tasks", s.handleListTasks)
	s.route(mux, "GET /api/v1/tasks/{id}", s.handleTaskDetail)
	s.route(mux, "POST /api/v1/tasks/{id}/cancel", s.guard("task.cancel", auth.PermTasksCancel, s.handleCancelTask))
	s.route(mux, "GET /.well-known/agent.json", s.handleAgentCard)
	s.route(mux, "GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// route 注册处理器并记录请求指标，pattern 作为指标中的 handler 标签。
func (s *Server) route(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	mux.Handle(pattern, instrument(pattern, handler))
}

// guard 在配置了认证服务时要求调用方具备 permission。
func (s *Server) guard(event, permission string, handler http.HandlerFunc) http.HandlerFunc {
	if s.auth == nil {
		return handler
	}
	wrapped := s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: []string{permission},
		AuditEvent:          event,
	})(handler)
	return wrapped.ServeHTTP
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(started))
	})
}

// statusRecorder 记录响应码，并保留 Flush 能力供 SSE 使用。
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
