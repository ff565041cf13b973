package llm

import (
	"sync/atomic"
	"time"
)

// UsageTracker는 모델 호출 메트릭을 수집합니다.
type UsageTracker struct {
	// Token 메트릭
	InputTokens      int64
	CompletionTokens int64

	// 호출 메트릭
	Requests int64
	Failures int64

	// 타이밍 메트릭
	TotalLatency int64 // 나노초
}

// RecordRequest는 성공한 호출을 기록합니다.
func (u *UsageTracker) RecordRequest(inputTokens, completionTokens int, latency time.Duration) {
	atomic.AddInt64(&u.Requests, 1)
	atomic.AddInt64(&u.InputTokens, int64(inputTokens))
	atomic.AddInt64(&u.CompletionTokens, int64(completionTokens))
	atomic.AddInt64(&u.TotalLatency, int64(latency))
}

// RecordFailure는 실패한 호출을 기록합니다.
func (u *UsageTracker) RecordFailure(latency time.Duration) {
	atomic.AddInt64(&u.Requests, 1)
	atomic.AddInt64(&u.Failures, 1)
	atomic.AddInt64(&u.TotalLatency, int64(latency))
}

// TotalInputTokens는 누적 입력 token 수를 반환합니다.
func (u *UsageTracker) TotalInputTokens() int64 {
	return atomic.LoadInt64(&u.InputTokens)
}

// TotalCompletionTokens는 누적 출력 token 수를 반환합니다.
func (u *UsageTracker) TotalCompletionTokens() int64 {
	return atomic.LoadInt64(&u.CompletionTokens)
}

// GetSnapshot은 현재 메트릭 스냅샷을 반환합니다.
func (u *UsageTracker) GetSnapshot() UsageSnapshot {
	return UsageSnapshot{
		InputTokens:      atomic.LoadInt64(&u.InputTokens),
		CompletionTokens: atomic.LoadInt64(&u.CompletionTokens),
		Requests:         atomic.LoadInt64(&u.Requests),
		Failures:         atomic.LoadInt64(&u.Failures),
		AvgLatencyMs:     u.calculateAvgLatency(),
	}
}

// Reset은 모든 메트릭을 초기화합니다.
func (u *UsageTracker) Reset() {
	atomic.StoreInt64(&u.InputTokens, 0)
	atomic.StoreInt64(&u.CompletionTokens, 0)
	atomic.StoreInt64(&u.Requests, 0)
	atomic.StoreInt64(&u.Failures, 0)
	atomic.StoreInt64(&u.TotalLatency, 0)
}

func (u *UsageTracker) calculateAvgLatency() float64 {
	requests := atomic.LoadInt64(&u.Requests)
	if requests == 0 {
		return 0
	}
	totalNs := atomic.LoadInt64(&u.TotalLatency)
	return float64(totalNs) / float64(requests) / 1e6 // 나노초 -> 밀리초
}

// UsageSnapshot은 사용량 스냅샷입니다.
type UsageSnapshot struct {
	InputTokens      int64   `json:"input_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Requests         int64   `json:"requests"`
	Failures         int64   `json:"failures"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
}
