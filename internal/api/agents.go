package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"StayRelay/internal/catalog"
	xerrors "StayRelay/internal/errors"
	"StayRelay/internal/notify"
	"StayRelay/internal/observability/metrics"
	"StayRelay/internal/registry"
	"StayRelay/pkg/logger"
)

// AgentConfig 是动态注册请求中的代理信息。
type AgentConfig struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	Description   string `json:"description"`
	WalletAddress string `json:"walletAddress"`
}

// RegisterRequest 是 POST /api/v1/agents 的请求体。corpusInfo 可以是单个酒店对象或数组。
type RegisterRequest struct {
	AgentConfig AgentConfig     `json:"agentConfig"`
	CorpusInfo  json.RawMessage `json:"corpusInfo,omitempty"`
}

// RegisterResponse 是注册成功后的响应。
type RegisterResponse struct {
	ID string `json:"id"`
}

// agentRegistered 是 agent.registered 事件的载荷。
type agentRegistered struct {
	Agent  registry.PublicEntry `json:"agent"`
	Hotels []catalog.Hotel      `json:"hotels,omitempty"`
}

// handleListAgents 返回注册表的公开视图，?id= 只返回对应条目。
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeJSON(w, http.StatusOK, []registry.PublicEntry{})
		return
	}
	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
		entry, err := s.registry.Resolve(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, []registry.PublicEntry{publicEntry(entry)})
		return
	}
	writeJSON(w, http.StatusOK, s.registry.ListPublic())
}

// handleRegisterAgent 先校验代理配置，再把酒店写入命名空间 <id> 并注册代理；
// 注册失败时恢复该命名空间原有的目录数据。
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "registry not configured"))
		return
	}

	registered := false
	defer func() { metrics.ObserveRegistration(registered) }()

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	cfg := req.AgentConfig
	cfg.ID = strings.TrimSpace(cfg.ID)
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	entry, err := registry.Validate(registry.Entry{
		ID:            cfg.ID,
		DisplayName:   cfg.Name,
		EndpointURL:   cfg.URL,
		Description:   cfg.Description,
		WalletAddress: cfg.WalletAddress,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	hotels, err := corpusHotels(cfg, req.CorpusInfo)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	ingest := len(hotels) > 0 && s.catalog != nil
	var previous []catalog.Hotel
	if ingest {
		if previous, err = s.catalog.Namespace(ctx, cfg.ID); err != nil {
			writeError(w, err)
			return
		}
		if err := s.catalog.Ingest(ctx, cfg.ID, hotels); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.registry.Register(entry); err != nil {
		if ingest {
			if restoreErr := s.catalog.Ingest(context.WithoutCancel(ctx), cfg.ID, previous); restoreErr != nil {
				s.log.Warn("恢复目录数据失败", slog.String("agent_id", cfg.ID), slog.Any("error", restoreErr))
			}
		}
		writeError(w, err)
		return
	}

	public := publicEntry(entry)
	if current, err := s.registry.Resolve(cfg.ID); err == nil {
		public = publicEntry(current)
	}
	logger.Audit().Info("代理已注册",
		slog.String("agent_id", public.ID),
		slog.String("url", public.URL),
		slog.Int("hotels", len(hotels)))
	s.publish(ctx, notify.TypeAgentRegistered, agentRegistered{Agent: public, Hotels: hotels})

	registered = true
	writeJSON(w, http.StatusCreated, RegisterResponse{ID: cfg.ID})
}

func publicEntry(entry registry.Entry) registry.PublicEntry {
	return registry.PublicEntry{
		ID:      entry.ID,
		Name:    entry.DisplayName,
		URL:     entry.EndpointURL,
		CardURL: entry.CardURL(),
	}
}

// corpusHotels 解析 corpusInfo。单个酒店的 ID 固定为代理 ID 以便路由，
// 缺失的名称、描述和钱包地址取自 agentConfig。
func corpusHotels(cfg AgentConfig, raw json.RawMessage) ([]catalog.Hotel, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var hotels []catalog.Hotel
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &hotels); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "corpusInfo 解析失败")
		}
	} else {
		var hotel catalog.Hotel
		if err := json.Unmarshal(trimmed, &hotel); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "corpusInfo 解析失败")
		}
		hotel.ID = cfg.ID
		hotels = []catalog.Hotel{hotel}
	}

	for i := range hotels {
		hotel := &hotels[i]
		if strings.TrimSpace(hotel.ID) == "" && len(hotels) == 1 {
			hotel.ID = cfg.ID
		}
		if strings.TrimSpace(hotel.Name) == "" {
			hotel.Name = strings.TrimSpace(cfg.Name)
		}
		if strings.TrimSpace(hotel.Description) == "" {
			hotel.Description = cfg.Description
		}
		if strings.TrimSpace(hotel.WalletAddress) == "" {
			hotel.WalletAddress = cfg.WalletAddress
		}
	}
	return hotels, nil
}

func (s *Server) publish(ctx context.Context, eventType string, payload any) {
	if s.publisher == nil {
		return
	}
	event, err := notify.NewEvent(eventType, payload)
	if err != nil {
		s.log.Warn("构造事件失败", slog.String("type", eventType), slog.Any("error", err))
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("发布事件失败", slog.String("type", eventType), slog.Any("error", err))
	}
}
