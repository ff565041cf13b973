package schema

// TokenCounter는 메시지 목록의 토큰 비용을 추정하는 oracle입니다.
type TokenCounter interface {
	CountTokens(messages []Message) int
}

// TokenCounterFunc는 함수를 TokenCounter로 사용할 수 있게 합니다.
type TokenCounterFunc func(messages []Message) int

// CountTokens implements TokenCounter.
func (f TokenCounterFunc) CountTokens(messages []Message) int {
	return f(messages)
}

// ApproxTokenCounter는 글자 수 / 4 로 토큰 수를 근사합니다.
type ApproxTokenCounter struct{}

// perMessageOverhead는 role 등 메시지 구조에 드는 대략적인 토큰 수입니다.
const perMessageOverhead = 4

// CountTokens implements TokenCounter.
func (ApproxTokenCounter) CountTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		chars := len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
		total += chars/4 + perMessageOverhead
	}
	return total
}

// ContextHealth는 compaction 필요 여부 점검 결과입니다.
type ContextHealth struct {
	NeedsCompaction bool `json:"needs_compaction"`
	TokenCount      int  `json:"token_count"`
	ThresholdTokens int  `json:"threshold_tokens"`
	MessageCount    int  `json:"message_count"`
}

// CompactionStats는 compaction 누적 카운터입니다.
type CompactionStats struct {
	CompactionCount  int `json:"compaction_count"`
	TotalTokensSaved int `json:"total_tokens_saved"`
}
