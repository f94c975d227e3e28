package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/pkg/logger"
)

// ConflictResolver 同 ID statement 在本地与 LRS 各有一份时的裁决器。
// 每次裁决写入环形日志，容量固定，旧条目被覆盖
type ConflictResolver struct {
	mu       sync.Mutex
	strategy model.ResolutionStrategy
	log      []model.ConflictLogEntry
	logSize  int
	logNext  int
	logFull  bool
}

func NewConflictResolver(strategy model.ResolutionStrategy, logSize int) *ConflictResolver {
	if logSize <= 0 {
		logSize = 100
	}
	return &ConflictResolver{
		strategy: strategy,
		log:      make([]model.ConflictLogEntry, logSize),
		logSize:  logSize,
	}
}

// Resolve 按当前策略裁决并记日志
func (r *ConflictResolver) Resolve(local, remote *model.XAPIStatement) *model.XAPIStatement {
	r.mu.Lock()
	strategy := r.strategy
	r.mu.Unlock()
	return r.ResolveWith(local, remote, strategy)
}

// ResolveWith 指定策略裁决
func (r *ConflictResolver) ResolveWith(local, remote *model.XAPIStatement, strategy model.ResolutionStrategy) *model.XAPIStatement {
	var winner *model.XAPIStatement

	switch strategy {
	case model.StrategyLocalPriority:
		winner = local
	case model.StrategyRemotePriority:
		winner = remote
	case model.StrategyMerge:
		winner = r.merge(local, remote)
	default: // lastWriteWins
		winner = lastWriteWins(local, remote)
	}

	r.recordConflict(local, remote, strategy)
	logger.Log.Debug("conflict resolved",
		zap.String("statementId", local.ID),
		zap.String("strategy", string(strategy)),
	)
	return winner
}

// ResolveBatch 同 ID 并发去重：首次出现视为本地，后续出现视为远端逐一裁决。
// 输出保持首次出现顺序
func (r *ConflictResolver) ResolveBatch(statements []*model.XAPIStatement) []*model.XAPIStatement {
	resolved := make(map[string]*model.XAPIStatement)
	var order []string

	for _, st := range statements {
		if existing, ok := resolved[st.ID]; ok {
			resolved[st.ID] = r.Resolve(existing, st)
			continue
		}
		resolved[st.ID] = st
		order = append(order, st.ID)
	}

	out := make([]*model.XAPIStatement, 0, len(order))
	for _, id := range order {
		out = append(out, resolved[id])
	}
	return out
}

// ResolveScoreConflict scaled 高者胜，缺 score 的一方让位
func (r *ConflictResolver) ResolveScoreConflict(local, remote *model.XAPIStatement) *model.XAPIStatement {
	localScaled := scaledOf(local)
	remoteScaled := scaledOf(remote)

	if localScaled == nil && remoteScaled == nil {
		return lastWriteWins(local, remote)
	}
	if localScaled == nil {
		return remote
	}
	if remoteScaled == nil {
		return local
	}
	if *localScaled >= *remoteScaled {
		return local
	}
	return remote
}

func (r *ConflictResolver) SetStrategy(strategy model.ResolutionStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategy = strategy
}

func (r *ConflictResolver) Strategy() model.ResolutionStrategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy
}

// ConflictLog 时间序返回当前日志快照
func (r *ConflictResolver) ConflictLog() []model.ConflictLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.logFull {
		out := make([]model.ConflictLogEntry, r.logNext)
		copy(out, r.log[:r.logNext])
		return out
	}

	out := make([]model.ConflictLogEntry, 0, r.logSize)
	out = append(out, r.log[r.logNext:]...)
	out = append(out, r.log[:r.logNext]...)
	return out
}

func (r *ConflictResolver) ClearLog() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logNext = 0
	r.logFull = false
}

// merge 合并非对称：completion 取本地，success 取远端，每个字段按 "本地 ?? 远端" 兜底，
// score 取 scaled 较高者。context 字段级取本地，扩展取并集
func (r *ConflictResolver) merge(local, remote *model.XAPIStatement) *model.XAPIStatement {
	merged := *lastWriteWins(local, remote)
	merged.Context = mergeContexts(local.Context, remote.Context)

	if local.Result == nil && remote.Result == nil {
		return &merged
	}

	result := &model.XAPIResult{}
	localRes := local.Result
	remoteRes := remote.Result
	if localRes == nil {
		localRes = &model.XAPIResult{}
	}
	if remoteRes == nil {
		remoteRes = &model.XAPIResult{}
	}

	result.Completion = localRes.Completion
	if result.Completion == nil {
		result.Completion = remoteRes.Completion
	}

	result.Success = remoteRes.Success
	if result.Success == nil {
		result.Success = localRes.Success
	}

	result.Score = higherScore(localRes.Score, remoteRes.Score)

	result.Duration = localRes.Duration
	if result.Duration == "" {
		result.Duration = remoteRes.Duration
	}

	result.Response = localRes.Response
	if result.Response == "" {
		result.Response = remoteRes.Response
	}

	if len(localRes.Extensions) > 0 || len(remoteRes.Extensions) > 0 {
		ext := model.Extensions{}
		for k, v := range localRes.Extensions {
			ext[k] = v
		}
		// 键冲突时远端覆盖
		for k, v := range remoteRes.Extensions {
			ext[k] = v
		}
		result.Extensions = ext
	}

	merged.Result = result
	return &merged
}

func (r *ConflictResolver) recordConflict(local, remote *model.XAPIStatement, strategy model.ResolutionStrategy) {
	entry := model.ConflictLogEntry{
		StatementID:     local.ID,
		Strategy:        strategy,
		Timestamp:       time.Now(),
		LocalTimestamp:  local.Timestamp,
		RemoteTimestamp: remote.Timestamp,
	}

	r.mu.Lock()
	r.log[r.logNext] = entry
	r.logNext++
	if r.logNext == r.logSize {
		r.logNext = 0
		r.logFull = true
	}
	r.mu.Unlock()
}

// lastWriteWins timestamp 较新者胜，缺失视为最早，持平取本地
func lastWriteWins(local, remote *model.XAPIStatement) *model.XAPIStatement {
	lt := timestampOrZero(local)
	rt := timestampOrZero(remote)
	if !lt.Before(rt) {
		return local
	}
	return remote
}

// mergeContexts 标量字段本地优先，扩展并集且键冲突时远端覆盖
func mergeContexts(local, remote *model.XAPIContext) *model.XAPIContext {
	if local == nil && remote == nil {
		return nil
	}
	if local == nil {
		local = &model.XAPIContext{}
	}
	if remote == nil {
		remote = &model.XAPIContext{}
	}

	merged := *local
	if merged.Registration == "" {
		merged.Registration = remote.Registration
	}
	if merged.Instructor == nil {
		merged.Instructor = remote.Instructor
	}
	if merged.ContextActivities == nil {
		merged.ContextActivities = remote.ContextActivities
	}
	if merged.Platform == "" {
		merged.Platform = remote.Platform
	}
	if merged.Language == "" {
		merged.Language = remote.Language
	}

	if len(local.Extensions) > 0 || len(remote.Extensions) > 0 {
		ext := model.Extensions{}
		for k, v := range local.Extensions {
			ext[k] = v
		}
		for k, v := range remote.Extensions {
			ext[k] = v
		}
		merged.Extensions = ext
	}
	return &merged
}

func timestampOrZero(st *model.XAPIStatement) time.Time {
	if st.Timestamp == nil {
		return time.Time{}
	}
	return *st.Timestamp
}

func scaledOf(st *model.XAPIStatement) *float64 {
	if st.Result == nil || st.Result.Score == nil {
		return nil
	}
	return st.Result.Score.Scaled
}

func higherScore(a, b *model.XAPIScore) *model.XAPIScore {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Scaled == nil {
		return b
	}
	if b.Scaled == nil {
		return a
	}
	if *a.Scaled >= *b.Scaled {
		return a
	}
	return b
}
