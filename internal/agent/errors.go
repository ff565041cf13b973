package agent

import (
	"errors"
	"fmt"
)

// ErrInvalidStateTransition은 허용되지 않은 상태 전환입니다.
// 예: idle이 아닌 상태에서 Run 호출, 알 수 없는 상태 값 요청.
var ErrInvalidStateTransition = errors.New("invalid state transition")

// StepError는 step 실행 실패를 래핑합니다.
type StepError struct {
	Step int   // 실패한 step 번호
	Err  error // 원본 에러
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
