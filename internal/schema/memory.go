package schema

import "sync"

// Memory는 대화 이력을 순서대로 보관하는 append-only 저장소입니다.
// 전체 교체(Replace)는 compaction과 restore에서만 사용합니다.
type Memory struct {
	mu       sync.RWMutex
	messages []Message
}

// NewMemory는 빈 Memory를 생성합니다.
func NewMemory() *Memory {
	return &Memory{messages: make([]Message, 0)}
}

// Add는 메시지를 끝에 추가합니다.
func (m *Memory) Add(msgs ...Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msgs...)
}

// Messages는 이력의 복사본을 반환합니다.
func (m *Memory) Messages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Replace는 이력을 통째로 교체합니다.
func (m *Memory) Replace(msgs []Message) {
	cp := make([]Message, len(msgs))
	copy(cp, msgs)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = cp
}

// Len은 메시지 개수를 반환합니다.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// Last는 가장 최근 메시지를 반환합니다.
func (m *Memory) Last() (Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.messages) == 0 {
		return Message{}, false
	}
	return m.messages[len(m.messages)-1], true
}

// CountRole은 주어진 role의 메시지 수를 셉니다.
func (m *Memory) CountRole(role Role) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, msg := range m.messages {
		if msg.Role == role {
			n++
		}
	}
	return n
}

// LastOfRole은 주어진 role의 가장 최근 메시지를 반환합니다.
func (m *Memory) LastOfRole(role Role) (Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role == role {
			return m.messages[i], true
		}
	}
	return Message{}, false
}
