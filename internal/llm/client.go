// Package llm은 모델 호출 경계를 정의합니다.
//
// 실제 wire 클라이언트는 이 모듈 밖에 있으며, 커널은 Client 인터페이스와
// token 사용량 집계만 다룹니다.
package llm

import (
	"context"
	"time"

	"github.com/cnap-oss/agentkernel/internal/schema"
)

// Client는 대화 이력을 받아 모델 응답 텍스트를 반환합니다.
type Client interface {
	Ask(ctx context.Context, messages []schema.Message, system []schema.Message) (string, error)
}

// ClientFunc는 함수를 Client로 사용할 수 있게 합니다.
type ClientFunc func(ctx context.Context, messages []schema.Message, system []schema.Message) (string, error)

// Ask implements Client.
func (f ClientFunc) Ask(ctx context.Context, messages []schema.Message, system []schema.Message) (string, error) {
	return f(ctx, messages, system)
}

// TrackedClient는 Client 호출마다 token 사용량을 UsageTracker에 누적합니다.
// 입력 token은 system과 messages 전체, 출력 token은 응답 텍스트로 계산합니다.
type TrackedClient struct {
	inner   Client
	counter schema.TokenCounter
	usage   *UsageTracker
}

// NewTrackedClient는 새 TrackedClient를 생성합니다. counter가 nil이면 근사치를 사용합니다.
func NewTrackedClient(inner Client, counter schema.TokenCounter) *TrackedClient {
	if counter == nil {
		counter = schema.ApproxTokenCounter{}
	}
	return &TrackedClient{
		inner:   inner,
		counter: counter,
		usage:   &UsageTracker{},
	}
}

// Ask implements Client.
func (c *TrackedClient) Ask(ctx context.Context, messages []schema.Message, system []schema.Message) (string, error) {
	start := time.Now()

	prompt := make([]schema.Message, 0, len(system)+len(messages))
	prompt = append(prompt, system...)
	prompt = append(prompt, messages...)
	inputTokens := c.counter.CountTokens(prompt)

	resp, err := c.inner.Ask(ctx, messages, system)
	if err != nil {
		c.usage.RecordFailure(time.Since(start))
		return "", err
	}

	completionTokens := c.counter.CountTokens([]schema.Message{schema.AssistantMessage(resp)})
	c.usage.RecordRequest(inputTokens, completionTokens, time.Since(start))
	return resp, nil
}

// Usage는 누적 사용량 집계기를 반환합니다.
func (c *TrackedClient) Usage() *UsageTracker {
	return c.usage
}

// TotalInputTokens는 누적 입력 token 수입니다.
func (c *TrackedClient) TotalInputTokens() int64 {
	return c.usage.TotalInputTokens()
}

// TotalCompletionTokens는 누적 출력 token 수입니다.
func (c *TrackedClient) TotalCompletionTokens() int64 {
	return c.usage.TotalCompletionTokens()
}
