package agent

import (
	"github.com/cnap-oss/agentkernel/internal/schema"
	"go.uber.org/zap"
)

// StuckPrompt는 반복 응답이 감지되었을 때 다음 step 안내 앞에 붙는 문구입니다.
const StuckPrompt = "Observed duplicate responses. Consider new strategies and avoid repeating ineffective paths already attempted."

const defaultDuplicateThreshold = 2

// DetectStuck은 마지막 메시지와 내용이 같은 이전 assistant 메시지가 threshold개 이상인지 확인합니다.
// threshold가 0 이하이면 2를 사용합니다. 이력은 변경하지 않습니다.
func DetectStuck(messages []schema.Message, threshold int) bool {
	if threshold <= 0 {
		threshold = defaultDuplicateThreshold
	}
	if len(messages) < 2 {
		return false
	}

	last := messages[len(messages)-1]
	if last.Content == "" {
		return false
	}

	duplicates := 0
	for i := len(messages) - 2; i >= 0; i-- {
		msg := messages[i]
		if msg.Role == schema.RoleAssistant && msg.Content == last.Content {
			duplicates++
		}
	}
	return duplicates >= threshold
}

// IsStuck은 현재 이력에 DetectStuck을 적용합니다.
func (a *Agent) IsStuck() bool {
	return DetectStuck(a.memory.Messages(), a.duplicateThreshold)
}

// HandleStuckState는 다음 step 안내 앞에 StuckPrompt를 붙이고 경고를 남깁니다.
func (a *Agent) HandleStuckState() {
	a.mu.Lock()
	if a.nextStepPrompt == "" {
		a.nextStepPrompt = StuckPrompt
	} else {
		a.nextStepPrompt = StuckPrompt + "\n" + a.nextStepPrompt
	}
	a.mu.Unlock()

	a.logger.Warn("Agent detected stuck state",
		zap.String("agent", a.name),
		zap.Int("step", a.CurrentStep()),
	)
}
