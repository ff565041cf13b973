package agent

import (
	"github.com/cnap-oss/agentkernel/internal/schema"
)

// TokenTotals는 모델 클라이언트의 누적 token 사용량입니다.
type TokenTotals struct {
	InputTokens      int64 `json:"input_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// RunSummary는 run 종료 시 계산되는 요약입니다.
type RunSummary struct {
	Steps        int               `json:"steps"`
	Messages     int               `json:"messages"`
	ToolCalls    int               `json:"tool_calls"`
	State        schema.AgentState `json:"state"`
	FinalPreview string            `json:"final_preview"`
	LLM          *TokenTotals      `json:"llm,omitempty"`
}

// Summary는 현재 에이전트 상태로 RunSummary를 계산합니다.
// ToolCalls는 tool 역할 메시지 수이고, FinalPreview는 마지막 assistant 메시지의 앞 500자입니다.
func (a *Agent) Summary() RunSummary {
	summary := RunSummary{
		Steps:     a.CurrentStep(),
		Messages:  a.memory.Len(),
		ToolCalls: a.memory.CountRole(schema.RoleTool),
		State:     a.State(),
	}
	if last, ok := a.memory.LastOfRole(schema.RoleAssistant); ok {
		summary.FinalPreview = truncate(last.Content, previewLimit)
	}
	if reporter, ok := a.model.(UsageReporter); ok {
		summary.LLM = &TokenTotals{
			InputTokens:      reporter.TotalInputTokens(),
			CompletionTokens: reporter.TotalCompletionTokens(),
		}
	}
	return summary
}

// Payload는 RunSummary를 이벤트 payload 형식으로 변환합니다.
func (s RunSummary) Payload() map[string]any {
	payload := map[string]any{
		"steps":         s.Steps,
		"messages":      s.Messages,
		"tool_calls":    s.ToolCalls,
		"state":         string(s.State),
		"final_preview": s.FinalPreview,
	}
	if s.LLM != nil {
		payload["llm"] = map[string]any{
			"input_tokens":      s.LLM.InputTokens,
			"completion_tokens": s.LLM.CompletionTokens,
		}
	}
	return payload
}
