package checkpoint

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cnap-oss/agentkernel/internal/common"
	"go.uber.org/zap"
)

// Config는 Manager 설정입니다.
type Config struct {
	Dir              string // checkpoint 루트 디렉토리 (기본: {DataDir}/checkpoints)
	AgentID          string // 에이전트별 하위 디렉토리 이름 (기본: default)
	MaxCheckpoints   int    // 보관할 최대 개수, 초과분은 오래된 순으로 삭제 (기본: 10)
	AutoInterval     int    // N step 마다 자동 저장, 0이면 비활성 (기본: 5)
	OnError          bool   // step 실패 시 저장 (기본: true)
	BeforeCompaction bool   // compaction 직전 저장 (기본: true)
}

// DefaultConfig는 기본 Manager 설정을 반환합니다.
func DefaultConfig() Config {
	return Config{
		AgentID:          "default",
		MaxCheckpoints:   10,
		AutoInterval:     5,
		OnError:          true,
		BeforeCompaction: true,
	}
}

// ConfigFromCommon은 중앙 설정에서 Manager 설정을 구성합니다.
func ConfigFromCommon(cfg *common.Config) Config {
	return Config{
		Dir:              cfg.Directory.CheckpointDir,
		AgentID:          cfg.Checkpoint.AgentID,
		MaxCheckpoints:   cfg.Checkpoint.MaxCheckpoints,
		AutoInterval:     cfg.Checkpoint.AutoInterval,
		OnError:          cfg.Checkpoint.OnError,
		BeforeCompaction: cfg.Checkpoint.BeforeCompaction,
	}
}

// Manager는 한 에이전트 namespace의 checkpoint를 관리합니다.
// index.json의 read-modify-write는 mu로 직렬화됩니다.
type Manager struct {
	config Config
	logger *zap.Logger

	mu     sync.Mutex
	now    func() time.Time
	encode encodeFunc
}

// NewManager는 새 Manager를 생성합니다.
func NewManager(logger *zap.Logger, config ...Config) *Manager {
	cfg := DefaultConfig()
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Dir == "" {
		cfg.Dir = common.GetCheckpointDir()
	}
	if cfg.AgentID == "" {
		cfg.AgentID = "default"
	}
	if cfg.MaxCheckpoints <= 0 {
		cfg.MaxCheckpoints = DefaultConfig().MaxCheckpoints
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		config: cfg,
		logger: logger,
		now:    time.Now,
		encode: encodeIndented,
	}
}

// Config는 정규화된 설정을 반환합니다.
func (m *Manager) Config() Config {
	return m.config
}

// Policy implements agent.Checkpointer.
func (m *Manager) Policy() Policy {
	return Policy{
		AutoInterval:     m.config.AutoInterval,
		OnError:          m.config.OnError,
		BeforeCompaction: m.config.BeforeCompaction,
	}
}

// AgentDir은 이 Manager가 사용하는 namespace 디렉토리입니다.
func (m *Manager) AgentDir() string {
	return filepath.Join(m.config.Dir, m.config.AgentID)
}

// PathFor는 checkpoint 이름에 해당하는 파일 경로를 반환합니다.
func (m *Manager) PathFor(name string) string {
	return filepath.Join(m.AgentDir(), SanitizeName(name)+".json")
}

func (m *Manager) indexPath() string {
	return filepath.Join(m.AgentDir(), indexFileName)
}

// Capture는 src의 현재 상태를 복사해 Data를 만듭니다. 디스크에는 쓰지 않습니다.
func (m *Manager) Capture(src Source, trigger Trigger, description string) (*Data, error) {
	data, err := NewData(src.Snapshot(), trigger, description)
	if err != nil {
		return nil, err
	}
	data.CreatedAt = NewTimestamp(m.now())
	return data, nil
}

// Save는 src의 상태를 name으로 저장합니다.
func (m *Manager) Save(ctx context.Context, name string, src Source, trigger Trigger, description string) (*Metadata, error) {
	data, err := m.Capture(src, trigger, description)
	if err != nil {
		return nil, err
	}
	return m.Write(ctx, name, data)
}

// Write는 이미 캡처된 data를 원자적으로 파일에 쓰고 index와 보관 개수를 갱신합니다.
func (m *Manager) Write(ctx context.Context, name string, data *Data) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError("save", name, ErrIO, err)
	}
	if isReservedName(name) {
		return nil, reservedNameError("save", name, ErrReservedName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.AgentDir(), 0o755); err != nil {
		return nil, newError("save", name, ErrIO, err)
	}

	path := m.PathFor(name)
	if err := writeFileAtomic(path, data, m.encode); err != nil {
		return nil, newError("save", name, ErrIO, err)
	}

	metadata := data.ToMetadata(path)
	if err := m.updateIndexLocked(func(entries []Metadata) []Metadata {
		kept := entries[:0]
		for _, e := range entries {
			if e.Name != metadata.Name {
				kept = append(kept, e)
			}
		}
		return append(kept, metadata)
	}); err != nil {
		return nil, newError("save", name, ErrIO, err)
	}

	m.cleanupLocked()

	m.logger.Info("Checkpoint saved",
		zap.String("agent_id", m.config.AgentID),
		zap.String("name", metadata.Name),
		zap.Int("step", data.CurrentStep),
		zap.Int("messages", len(data.Messages)),
		zap.String("trigger", string(data.Trigger)),
	)

	return &metadata, nil
}

// Load는 name의 checkpoint를 읽습니다.
func (m *Manager) Load(ctx context.Context, name string) (*Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError("load", name, ErrIO, err)
	}
	if isReservedName(name) {
		return nil, reservedNameError("load", name, ErrNotFound)
	}

	data, err := LoadFile(m.PathFor(name))
	if err != nil {
		var cpErr *Error
		if errors.As(err, &cpErr) {
			cpErr.Name = name
		}
		return nil, err
	}

	m.logger.Info("Checkpoint loaded",
		zap.String("agent_id", m.config.AgentID),
		zap.String("name", name),
		zap.Int("step", data.CurrentStep),
	)
	return data, nil
}

// LoadFromPath는 namespace와 무관하게 경로의 checkpoint를 읽습니다.
func (m *Manager) LoadFromPath(ctx context.Context, path string) (*Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError("load", path, ErrIO, err)
	}
	return LoadFile(path)
}

// List는 checkpoint 목록을 최신순으로 반환합니다.
// index가 없으면 빈 목록, 손상되었으면 경고를 남기고 빈 목록을 반환합니다.
func (m *Manager) List(ctx context.Context) ([]Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(), nil
}

// Delete는 name의 checkpoint를 삭제합니다. 파일이 없으면 false를 반환합니다.
func (m *Manager) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, newError("delete", name, ErrIO, err)
	}
	if isReservedName(name) {
		return false, reservedNameError("delete", name, ErrReservedName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(name)
}

// Latest는 가장 최근 checkpoint를 읽습니다. 없으면 nil, nil을 반환합니다.
func (m *Manager) Latest(ctx context.Context) (*Data, error) {
	entries, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return m.Load(ctx, entries[0].Name)
}

// ClearAll은 namespace의 모든 checkpoint 파일과 index를 삭제하고 삭제한 파일 수를 반환합니다.
func (m *Manager) ClearAll(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, newError("clear", "", ErrIO, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.AgentDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, newError("clear", "", ErrIO, err)
	}

	count := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == indexFileName || !strings.HasSuffix(name, ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(m.AgentDir(), name)); err != nil {
			return count, newError("clear", name, ErrIO, err)
		}
		count++
	}

	if err := os.Remove(m.indexPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return count, newError("clear", indexFileName, ErrIO, err)
	}

	m.logger.Info("Checkpoints cleared",
		zap.String("agent_id", m.config.AgentID),
		zap.Int("count", count),
	)
	return count, nil
}

func (m *Manager) listLocked() []Metadata {
	idx, err := readIndex(m.indexPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("Failed to read checkpoint index",
				zap.String("agent_id", m.config.AgentID),
				zap.Error(err),
			)
		}
		return []Metadata{}
	}

	// 같은 시각이면 나중에 index에 들어간 항목을 먼저 둡니다.
	out := make([]Metadata, 0, len(idx.Checkpoints))
	for i := len(idx.Checkpoints) - 1; i >= 0; i-- {
		out = append(out, idx.Checkpoints[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt.Time)
	})
	return out
}

func (m *Manager) deleteLocked(name string) (bool, error) {
	path := m.PathFor(name)
	sanitized := SanitizeName(name)

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if idxErr := m.removeFromIndexLocked(sanitized); idxErr != nil {
				m.logger.Warn("Failed to prune stale index entry",
					zap.String("name", sanitized),
					zap.Error(idxErr),
				)
			}
			return false, nil
		}
		return false, newError("delete", name, ErrIO, err)
	}

	if err := os.Remove(path); err != nil {
		return false, newError("delete", name, ErrIO, err)
	}
	if err := m.removeFromIndexLocked(sanitized); err != nil {
		return true, newError("delete", name, ErrIO, err)
	}

	m.logger.Info("Checkpoint deleted",
		zap.String("agent_id", m.config.AgentID),
		zap.String("name", sanitized),
	)
	return true, nil
}

func (m *Manager) removeFromIndexLocked(name string) error {
	if _, err := os.Stat(m.indexPath()); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return m.updateIndexLocked(func(entries []Metadata) []Metadata {
		kept := entries[:0]
		for _, e := range entries {
			if e.Name != name {
				kept = append(kept, e)
			}
		}
		return kept
	})
}

// updateIndexLocked는 index를 읽어 mutate를 적용한 뒤 원자적으로 다시 씁니다.
// 손상된 index는 빈 index로 간주하고 덮어씁니다.
func (m *Manager) updateIndexLocked(mutate func([]Metadata) []Metadata) error {
	idx, err := readIndex(m.indexPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("Rebuilding unreadable checkpoint index",
				zap.String("agent_id", m.config.AgentID),
				zap.Error(err),
			)
		}
		idx = &index{}
	}

	idx.Checkpoints = mutate(idx.Checkpoints)
	if idx.Checkpoints == nil {
		idx.Checkpoints = []Metadata{}
	}
	return writeFileAtomic(m.indexPath(), idx, encodeIndented)
}

// cleanupLocked는 MaxCheckpoints를 넘는 오래된 checkpoint를 삭제합니다.
func (m *Manager) cleanupLocked() {
	entries := m.listLocked()
	if len(entries) <= m.config.MaxCheckpoints {
		return
	}

	for _, e := range entries[m.config.MaxCheckpoints:] {
		if _, err := m.deleteLocked(e.Name); err != nil {
			m.logger.Warn("Failed to delete old checkpoint",
				zap.String("name", e.Name),
				zap.Error(err),
			)
			continue
		}
		m.logger.Debug("Old checkpoint removed", zap.String("name", e.Name))
	}
}
