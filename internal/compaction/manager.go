// Package compaction은 대화 이력을 token 예산 안으로 줄이는 ContextManager를 제공합니다.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cnap-oss/agentkernel/internal/common"
	"github.com/cnap-oss/agentkernel/internal/schema"
	"go.uber.org/zap"
)

// ErrCompaction은 strategy 실패를 감쌉니다.
var ErrCompaction = errors.New("compaction failed")

// Config는 ContextManager 설정입니다.
type Config struct {
	Enabled         bool
	ThresholdTokens int     // 이 값을 넘으면 compaction 대상
	TargetRatio     float64 // 목표 token 수 = ThresholdTokens * TargetRatio
	KeepRecent      int     // strategy가 건드리지 않는 최근 메시지 수
}

// DefaultConfig는 기본 설정을 반환합니다.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		ThresholdTokens: 100000,
		TargetRatio:     0.5,
		KeepRecent:      10,
	}
}

// ConfigFromCommon은 애플리케이션 설정에서 Config를 만듭니다.
func ConfigFromCommon(cfg *common.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		Enabled:         cfg.Compaction.Enabled,
		ThresholdTokens: cfg.Compaction.ThresholdTokens,
		TargetRatio:     cfg.Compaction.TargetRatio,
		KeepRecent:      cfg.Compaction.KeepRecent,
	}
}

// ContextManager는 token 수를 감시하고 필요할 때 strategy를 차례로 적용합니다.
type ContextManager struct {
	config     Config
	strategies []Strategy
	logger     *zap.Logger

	mu    sync.Mutex
	stats schema.CompactionStats
}

// NewContextManager는 새 ContextManager를 생성합니다.
// 기본 strategy는 ToolResultClearer, KeepRecent 순서입니다.
func NewContextManager(logger *zap.Logger, config ...Config) *ContextManager {
	cfg := DefaultConfig()
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.ThresholdTokens <= 0 {
		cfg.ThresholdTokens = DefaultConfig().ThresholdTokens
	}
	if cfg.TargetRatio <= 0 || cfg.TargetRatio > 1 {
		cfg.TargetRatio = DefaultConfig().TargetRatio
	}
	if cfg.KeepRecent < 0 {
		cfg.KeepRecent = 0
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &ContextManager{
		config: cfg,
		strategies: []Strategy{
			ToolResultClearer{KeepRecent: cfg.KeepRecent},
			KeepRecent{N: cfg.KeepRecent},
		},
		logger: logger,
	}
}

// UseStrategies는 strategy chain을 교체합니다.
func (m *ContextManager) UseStrategies(strategies ...Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies = append([]Strategy(nil), strategies...)
}

// Config는 정규화된 설정을 반환합니다.
func (m *ContextManager) Config() Config {
	return m.config
}

// TargetTokens는 compaction 목표 token 수입니다.
func (m *ContextManager) TargetTokens() int {
	return int(float64(m.config.ThresholdTokens) * m.config.TargetRatio)
}

// CheckHealth는 현재 이력의 token 수를 threshold와 비교합니다.
func (m *ContextManager) CheckHealth(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) (schema.ContextHealth, error) {
	if err := ctx.Err(); err != nil {
		return schema.ContextHealth{}, err
	}
	if counter == nil {
		counter = schema.ApproxTokenCounter{}
	}

	tokens := counter.CountTokens(messages)
	return schema.ContextHealth{
		NeedsCompaction: m.config.Enabled && tokens > m.config.ThresholdTokens,
		TokenCount:      tokens,
		ThresholdTokens: m.config.ThresholdTokens,
		MessageCount:    len(messages),
	}, nil
}

// CompactIfNeeded는 threshold를 넘었을 때 목표 token 수에 닿을 때까지 strategy를 순서대로 적용합니다.
// 필요 없으면 입력을 그대로 반환합니다.
func (m *ContextManager) CompactIfNeeded(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) ([]schema.Message, error) {
	if counter == nil {
		counter = schema.ApproxTokenCounter{}
	}
	health, err := m.CheckHealth(ctx, messages, counter)
	if err != nil {
		return nil, err
	}
	if !health.NeedsCompaction {
		return messages, nil
	}

	m.mu.Lock()
	strategies := append([]Strategy(nil), m.strategies...)
	m.mu.Unlock()

	target := m.TargetTokens()
	current := messages
	tokens := health.TokenCount
	for _, s := range strategies {
		if tokens <= target {
			break
		}

		next, err := s.Apply(ctx, current, counter)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCompaction, s.Name(), err)
		}
		if len(next) > len(current) {
			return nil, fmt.Errorf("%w: %s grew history from %d to %d messages", ErrCompaction, s.Name(), len(current), len(next))
		}

		current = next
		tokens = counter.CountTokens(current)
		m.logger.Debug("Compaction strategy applied",
			zap.String("strategy", s.Name()),
			zap.Int("tokens", tokens),
			zap.Int("messages", len(current)),
		)
	}

	saved := health.TokenCount - tokens
	if saved <= 0 {
		m.logger.Warn("Compaction did not reduce context",
			zap.Int("tokens", tokens),
			zap.Int("threshold", m.config.ThresholdTokens),
		)
		return messages, nil
	}

	m.mu.Lock()
	m.stats.CompactionCount++
	m.stats.TotalTokensSaved += saved
	count := m.stats.CompactionCount
	m.mu.Unlock()

	m.logger.Info("Context compacted",
		zap.Int("compaction", count),
		zap.Int("tokens_before", health.TokenCount),
		zap.Int("tokens_after", tokens),
		zap.Int("messages_before", len(messages)),
		zap.Int("messages_after", len(current)),
	)
	return current, nil
}

// Stats는 누적 compaction 통계를 반환합니다.
func (m *ContextManager) Stats() schema.CompactionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// RestoreStats는 checkpoint에서 읽은 통계를 적용합니다.
func (m *ContextManager) RestoreStats(stats schema.CompactionStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = stats
}
