package sandbox

import (
	"context"
	"time"

	"github.com/cnap-oss/agentkernel/internal/common"
	"go.uber.org/zap"
)

// RetryConfig는 일시적인 Docker 에러에 대한 재시도 정책입니다.
type RetryConfig struct {
	MaxRetries     int           // 첫 시도 이후 추가 시도 횟수
	InitialBackoff time.Duration // 첫 재시도 전 대기
	MaxBackoff     time.Duration // 대기 상한
	BackoffFactor  float64       // 재시도마다 곱하는 계수
}

// DefaultRetryConfig는 기본 재시도 정책을 반환합니다.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// RetryConfigFromCommon은 sandbox 설정의 재시도 값을 반영합니다.
// 설정되지 않은 값은 기본값을 유지합니다.
func RetryConfigFromCommon(cfg *common.Config) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg == nil {
		return rc
	}
	if cfg.Sandbox.MaxRetries >= 0 {
		rc.MaxRetries = cfg.Sandbox.MaxRetries
	}
	if cfg.Sandbox.RetryBackoff > 0 {
		rc.InitialBackoff = cfg.Sandbox.RetryBackoff
		if rc.MaxBackoff < rc.InitialBackoff {
			rc.MaxBackoff = rc.InitialBackoff
		}
	}
	return rc
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultRetryConfig().InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	return c
}

// backoff는 attempt번째 재시도(1부터) 전의 대기 시간입니다.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffFactor)
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return d
}

// Retrier는 IsRetryable로 분류된 에러만 지수 백오프로 다시 시도합니다.
type Retrier struct {
	config RetryConfig
	logger *zap.Logger
}

// NewRetrier는 새 Retrier를 생성합니다.
func NewRetrier(logger *zap.Logger, config ...RetryConfig) *Retrier {
	cfg := DefaultRetryConfig()
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retrier{
		config: cfg.normalized(),
		logger: logger,
	}
}

// Config는 정규화된 재시도 정책을 반환합니다.
func (r *Retrier) Config() RetryConfig {
	return r.config
}

// Do는 op가 성공하거나, 재시도 불가능한 에러를 내거나, 횟수를 다 쓸 때까지 실행합니다.
// 대기 중 ctx가 취소되면 ctx.Err()를 반환합니다.
func (r *Retrier) Do(ctx context.Context, opName string, op func(ctx context.Context) error) error {
	err := op(ctx)
	for attempt := 1; err != nil && IsRetryable(err); attempt++ {
		if attempt > r.config.MaxRetries {
			r.logger.Error("Docker 작업 재시도 한도 초과",
				zap.String("operation", opName),
				zap.Int("max_retries", r.config.MaxRetries),
				zap.Error(err),
			)
			return err
		}

		wait := r.config.backoff(attempt)
		r.logger.Warn("일시적인 Docker 에러, 재시도합니다",
			zap.String("operation", opName),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if waitErr := sleepContext(ctx, wait); waitErr != nil {
			return waitErr
		}
		err = op(ctx)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
