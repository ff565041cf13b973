package agent

import (
	"sync"

	"github.com/cnap-oss/agentkernel/internal/schema"
)

// ToolSnapshot은 checkpoint에 저장되는 tool 관련 상태입니다.
type ToolSnapshot struct {
	ToolCalls        []schema.ToolCall
	LoadedToolNames  []string
	ConnectedServers map[string]string
}

// ToolStateHolder는 tool 상태를 가진 에이전트가 제공하는 확장 지점입니다.
// 설정되지 않은 Agent는 tool 상태를 저장하거나 복원하지 않습니다.
type ToolStateHolder interface {
	ToolSnapshot() ToolSnapshot
	RestoreTools(snap ToolSnapshot)
}

// ToolState는 ToolStateHolder의 기본 구현입니다. tool을 쓰는 Stepper에 embed해서 사용합니다.
type ToolState struct {
	mu      sync.RWMutex
	calls   []schema.ToolCall
	loaded  []string
	servers map[string]string
}

var _ ToolStateHolder = (*ToolState)(nil)

// SetToolCalls는 현재 처리 중인 tool call 목록을 교체합니다.
func (t *ToolState) SetToolCalls(calls []schema.ToolCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append([]schema.ToolCall(nil), calls...)
}

// ToolCalls는 현재 tool call 목록의 복사본을 반환합니다.
func (t *ToolState) ToolCalls() []schema.ToolCall {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]schema.ToolCall(nil), t.calls...)
}

// AddLoadedTool은 로드된 tool 이름을 기록합니다. 중복은 무시합니다.
func (t *ToolState) AddLoadedTool(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.loaded {
		if n == name {
			return
		}
	}
	t.loaded = append(t.loaded, name)
}

// LoadedToolNames는 로드된 tool 이름 목록을 반환합니다.
func (t *ToolState) LoadedToolNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.loaded...)
}

// ConnectServer는 연결된 tool 서버를 기록합니다.
func (t *ToolState) ConnectServer(id, transport string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.servers == nil {
		t.servers = make(map[string]string)
	}
	t.servers[id] = transport
}

// ConnectedServers는 연결된 서버 목록의 복사본을 반환합니다.
func (t *ToolState) ConnectedServers() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.servers))
	for k, v := range t.servers {
		out[k] = v
	}
	return out
}

// ToolSnapshot implements ToolStateHolder.
func (t *ToolState) ToolSnapshot() ToolSnapshot {
	return ToolSnapshot{
		ToolCalls:        t.ToolCalls(),
		LoadedToolNames:  t.LoadedToolNames(),
		ConnectedServers: t.ConnectedServers(),
	}
}

// RestoreTools implements ToolStateHolder.
// tool call 목록은 snapshot에 항목이 있을 때만 덮어씁니다.
func (t *ToolState) RestoreTools(snap ToolSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(snap.ToolCalls) > 0 {
		t.calls = append([]schema.ToolCall(nil), snap.ToolCalls...)
	}
	t.loaded = append([]string(nil), snap.LoadedToolNames...)
	t.servers = make(map[string]string, len(snap.ConnectedServers))
	for k, v := range snap.ConnectedServers {
		t.servers[k] = v
	}
}
