package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"xapi_sync_backend/internal/config"
	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/internal/util"
	"xapi_sync_backend/pkg/logger"
)

// LRSService 远程 Learning Record Store 的访问接口
type LRSService interface {
	PostStatement(ctx context.Context, st *model.XAPIStatement) (string, error)
	PostStatements(ctx context.Context, statements []*model.XAPIStatement) ([]string, error)
	GetStatement(ctx context.Context, id string) (*model.XAPIStatement, error)
	GetStatements(ctx context.Context, activityID, agent string, limit int) ([]*model.XAPIStatement, error)
	GetState(ctx context.Context, activityID, agent, registration, stateID string) (json.RawMessage, error)
	PutState(ctx context.Context, activityID, agent, registration, stateID string, doc json.RawMessage) error
	DeleteState(ctx context.Context, activityID, agent, registration, stateID string) error
	CreateSession(ctx context.Context, actorMbox, registration string) (*model.LRSSession, error)
	GetSession(sessionID string) (*model.LRSSession, error)
	Ping(ctx context.Context) error
}

// HTTPLRSService 标准 xAPI REST 端点的实现。会话缓存在进程内
type HTTPLRSService struct {
	cfg    *config.Config
	client *http.Client

	mu       sync.RWMutex
	sessions map[string]*model.LRSSession
}

func NewHTTPLRSService(cfg *config.Config) *HTTPLRSService {
	return &HTTPLRSService{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.LRS.Timeout},
		sessions: make(map[string]*model.LRSSession),
	}
}

// PostStatement 单条入库，返回 LRS 分配 (或回显) 的 statement ID
func (s *HTTPLRSService) PostStatement(ctx context.Context, st *model.XAPIStatement) (string, error) {
	ids, err := s.PostStatements(ctx, []*model.XAPIStatement{st})
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return st.ID, nil
	}
	return ids[0], nil
}

// PostStatements 批量入库。LRS 返回 JSON 数组的 statement ID
func (s *HTTPLRSService) PostStatements(ctx context.Context, statements []*model.XAPIStatement) ([]string, error) {
	if len(statements) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(statements)
	if err != nil {
		return nil, fmt.Errorf("marshal statements: %w", err)
	}

	req, err := s.newRequest(ctx, http.MethodPost, "/statements", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post statements: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Log.Warn("LRS rejected statements",
			zap.Int("status", resp.StatusCode),
			zap.Int("count", len(statements)),
			zap.ByteString("body", data),
		)
		return nil, fmt.Errorf("LRS returned status %d", resp.StatusCode)
	}

	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("decode statement ids: %w", err)
	}
	return ids, nil
}

// GetStatement statementId 查询，404 映射为 ErrStatementNotFound
func (s *HTTPLRSService) GetStatement(ctx context.Context, id string) (*model.XAPIStatement, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/statements?statementId="+url.QueryEscape(id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get statement: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, util.ErrStatementNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("LRS returned status %d", resp.StatusCode)
	}

	var st model.XAPIStatement
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode statement: %w", err)
	}
	return &st, nil
}

// GetStatements 按 activity / agent / limit 过滤查询。
// LRS 返回 StatementResult 封套，这里只取第一页
func (s *HTTPLRSService) GetStatements(ctx context.Context, activityID, agent string, limit int) ([]*model.XAPIStatement, error) {
	q := url.Values{}
	if activityID != "" {
		q.Set("activity", activityID)
	}
	if agent != "" {
		q.Set("agent", agent)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/statements"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	req, err := s.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get statements: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("LRS returned status %d", resp.StatusCode)
	}

	var result struct {
		Statements []*model.XAPIStatement `json:"statements"`
		More       string                 `json:"more"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode statement result: %w", err)
	}
	return result.Statements, nil
}

// GetState xAPI State API 读取
func (s *HTTPLRSService) GetState(ctx context.Context, activityID, agent, registration, stateID string) (json.RawMessage, error) {
	req, err := s.newRequest(ctx, http.MethodGet, statePath(activityID, agent, registration, stateID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("LRS returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read state body: %w", err)
	}
	return data, nil
}

// PutState xAPI State API 写入
func (s *HTTPLRSService) PutState(ctx context.Context, activityID, agent, registration, stateID string, doc json.RawMessage) error {
	req, err := s.newRequest(ctx, http.MethodPut, statePath(activityID, agent, registration, stateID), bytes.NewReader(doc))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("put state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("LRS returned status %d", resp.StatusCode)
	}
	return nil
}

// DeleteState xAPI State API 删除
func (s *HTTPLRSService) DeleteState(ctx context.Context, activityID, agent, registration, stateID string) error {
	req, err := s.newRequest(ctx, http.MethodDelete, statePath(activityID, agent, registration, stateID), nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("LRS returned status %d", resp.StatusCode)
	}
	return nil
}

// CreateSession 生成 launch 会话：JWT 作为 auth-token，缓存到期前可复用
func (s *HTTPLRSService) CreateSession(ctx context.Context, actorMbox, registration string) (*model.LRSSession, error) {
	sessionID := uuid.NewString()
	if registration == "" {
		registration = uuid.NewString()
	}

	token, err := util.GenerateSessionToken(sessionID, registration, actorMbox, s.cfg.JWT.Secret, s.cfg.JWT.ExpireTime)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	session := &model.LRSSession{
		SessionID:    sessionID,
		AuthToken:    token,
		Endpoint:     s.cfg.LRS.Endpoint,
		Registration: registration,
		ActorMbox:    actorMbox,
		ExpiresAt:    time.Now().Add(s.cfg.JWT.ExpireTime),
	}

	s.mu.Lock()
	s.sessions[sessionID] = session
	s.mu.Unlock()

	logger.Log.Info("LRS session created",
		zap.String("sessionId", sessionID),
		zap.String("registration", registration),
	)
	return session, nil
}

// GetSession 过期会话视为不存在
func (s *HTTPLRSService) GetSession(sessionID string) (*model.LRSSession, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, util.ErrSessionExpired
	}
	if session.IsExpired() {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		return nil, util.ErrSessionExpired
	}
	return session, nil
}

// Ping /about 探活
func (s *HTTPLRSService) Ping(ctx context.Context) error {
	req, err := s.newRequest(ctx, http.MethodGet, "/about", nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return util.ErrNetworkUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("LRS returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPLRSService) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.LRS.Endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("build LRS request: %w", err)
	}
	req.Header.Set("X-Experience-API-Version", s.cfg.LRS.Version)
	if s.cfg.LRS.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.LRS.AuthToken)
	}
	return req, nil
}

func statePath(activityID, agent, registration, stateID string) string {
	q := url.Values{}
	q.Set("activityId", activityID)
	q.Set("agent", agent)
	q.Set("stateId", stateID)
	if registration != "" {
		q.Set("registration", registration)
	}
	return "/activities/state?" + q.Encode()
}
