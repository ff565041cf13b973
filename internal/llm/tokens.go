package llm

import (
	"github.com/cnap-oss/agentkernel/internal/schema"
	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// perMessageTokens는 chat 형식에서 메시지마다 붙는 구조 token 수입니다.
const perMessageTokens = 4

// TiktokenCounter는 모델의 BPE 인코딩으로 token 수를 계산합니다.
// 인코딩을 얻지 못하면 schema.ApproxTokenCounter로 대체합니다.
type TiktokenCounter struct {
	model    string
	encoding *tiktoken.Tiktoken
	fallback schema.ApproxTokenCounter
}

var _ schema.TokenCounter = (*TiktokenCounter)(nil)

// NewTiktokenCounter는 model 이름에 맞는 인코딩으로 TiktokenCounter를 생성합니다.
func NewTiktokenCounter(model string, logger *zap.Logger) *TiktokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &TiktokenCounter{model: model}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		logger.Warn("Token encoding unavailable, using approximation",
			zap.String("model", model),
			zap.Error(err),
		)
		return c
	}
	c.encoding = enc
	return c
}

// Exact는 BPE 인코딩을 사용 중인지 여부입니다.
func (c *TiktokenCounter) Exact() bool {
	return c.encoding != nil
}

// CountTokens implements schema.TokenCounter.
func (c *TiktokenCounter) CountTokens(messages []schema.Message) int {
	if c.encoding == nil {
		return c.fallback.CountTokens(messages)
	}

	total := 0
	for _, m := range messages {
		total += perMessageTokens
		total += len(c.encoding.Encode(m.Content, nil, nil))
		for _, tc := range m.ToolCalls {
			total += len(c.encoding.Encode(tc.Function.Name, nil, nil))
			total += len(c.encoding.Encode(tc.Function.Arguments, nil, nil))
		}
	}
	return total
}
