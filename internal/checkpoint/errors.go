package checkpoint

import (
	"errors"
	"fmt"
)

var (
	// ErrIO는 checkpoint 파일이나 index를 쓰거나 지우지 못했을 때의 분류입니다.
	ErrIO = errors.New("checkpoint I/O failure")
	// ErrNotFound는 요청한 checkpoint 파일이 없을 때의 분류입니다.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrDecode는 checkpoint 파일을 해석할 수 없을 때의 분류입니다.
	ErrDecode = errors.New("checkpoint decode failure")
	// ErrInvalidTrigger는 정의되지 않은 trigger 값입니다.
	ErrInvalidTrigger = errors.New("invalid checkpoint trigger")
	// ErrReservedName은 namespace의 index 파일과 겹치는 checkpoint 이름입니다.
	ErrReservedName = errors.New("checkpoint name is reserved")
)

// Error는 checkpoint 작업 실패를 래핑합니다.
// errors.Is(err, ErrIO) 처럼 Kind로 분류를 확인할 수 있습니다.
type Error struct {
	Op   string // 작업명 (예: "save", "load", "delete")
	Name string // checkpoint 이름 또는 파일 경로
	Kind error  // ErrIO, ErrNotFound, ErrDecode, ErrReservedName
	Err  error  // 원본 에러
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("checkpoint[%s] %s: %v", e.Name, e.Op, e.Err)
	}
	return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is는 Kind 비교를 지원합니다.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func newError(op, name string, kind, err error) *Error {
	return &Error{
		Op:   op,
		Name: name,
		Kind: kind,
		Err:  err,
	}
}
