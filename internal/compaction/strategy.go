package compaction

import (
	"context"

	"github.com/cnap-oss/agentkernel/internal/schema"
)

// ClearedToolResult는 정리된 tool 결과 자리에 남는 문구입니다.
const ClearedToolResult = "[tool result cleared to save context]"

// Strategy는 메시지 목록을 줄이는 한 가지 방법입니다.
// 구현체는 순서를 유지해야 하고 입력보다 긴 결과를 돌려주면 안 됩니다.
type Strategy interface {
	Name() string
	Apply(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) ([]schema.Message, error)
}

// ToolResultClearer는 최근 KeepRecent개를 제외한 tool 메시지의 내용을 비웁니다.
// 메시지 수와 tool_call_id는 유지되므로 tool call 짝이 깨지지 않습니다.
type ToolResultClearer struct {
	KeepRecent int
}

// Name implements Strategy.
func (ToolResultClearer) Name() string { return "tool_result_clearer" }

// Apply implements Strategy.
func (s ToolResultClearer) Apply(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) ([]schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]schema.Message, len(messages))
	copy(out, messages)

	boundary := len(out) - max(s.KeepRecent, 0)
	for i := 0; i < boundary; i++ {
		if out[i].Role == schema.RoleTool && out[i].Content != ClearedToolResult {
			out[i].Content = ClearedToolResult
			out[i].Base64Image = ""
		}
	}
	return out, nil
}

// KeepRecent는 앞쪽 system 메시지와 마지막 N개의 메시지만 남깁니다.
// 잘린 지점이 tool 메시지로 시작하면 짝이 되는 assistant 메시지가 없으므로 그 tool 메시지들도 버립니다.
type KeepRecent struct {
	N int
}

// Name implements Strategy.
func (KeepRecent) Name() string { return "keep_recent" }

// Apply implements Strategy.
func (s KeepRecent) Apply(ctx context.Context, messages []schema.Message, counter schema.TokenCounter) ([]schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := 0
	for prefix < len(messages) && messages[prefix].Role == schema.RoleSystem {
		prefix++
	}

	keep := max(s.N, 0)
	start := max(len(messages)-keep, prefix)
	for start < len(messages) && messages[start].Role == schema.RoleTool {
		start++
	}

	out := make([]schema.Message, 0, prefix+len(messages)-start)
	out = append(out, messages[:prefix]...)
	out = append(out, messages[start:]...)
	return out, nil
}
