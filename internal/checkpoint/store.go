package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/cnap-oss/agentkernel/internal/schema"
	"golang.org/x/text/unicode/norm"
)

const (
	indexFileName = "index.json"
	tempPattern   = ".checkpoint-tmp-*"
)

// encodeFunc는 v를 w에 직렬화합니다. 테스트에서 쓰기 실패를 흉내낼 때 교체합니다.
type encodeFunc func(w io.Writer, v any) error

func encodeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// SanitizeName은 checkpoint 이름을 파일 이름으로 쓸 수 있게 바꿉니다.
// NFC 정규화 후 문자, 숫자, '-', '_' 이외의 rune은 '_'로 치환합니다.
func SanitizeName(name string) string {
	normalized := norm.NFC.String(name)

	out := make([]rune, 0, len(normalized))
	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			out = append(out, r)
			continue
		}
		out = append(out, '_')
	}
	return string(out)
}

// isReservedName은 sanitize된 이름이 index 파일과 겹치는지 확인합니다.
// 대소문자를 구분하지 않는 파일 시스템도 고려합니다.
func isReservedName(name string) bool {
	return strings.EqualFold(SanitizeName(name)+".json", indexFileName)
}

func reservedNameError(op, name string, kind error) *Error {
	return newError(op, name, kind, fmt.Errorf("%w: %q collides with %s", ErrReservedName, name, indexFileName))
}

// writeFileAtomic은 같은 디렉토리의 임시 파일에 쓴 뒤 rename으로 교체합니다.
// 실패하면 임시 파일을 지우고 기존 파일은 그대로 둡니다.
func writeFileAtomic(path string, v any, encode encodeFunc) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = encode(tmp, v); err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	return nil
}

// LoadFile은 경로의 checkpoint 파일을 읽어 검증합니다.
// 파일이 없으면 ErrNotFound, 해석할 수 없으면 ErrDecode로 분류된 *Error를 반환합니다.
func LoadFile(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError("load", path, ErrNotFound, err)
		}
		return nil, newError("load", path, ErrIO, err)
	}

	data, err := decodeData(raw)
	if err != nil {
		return nil, newError("load", path, ErrDecode, err)
	}
	return data, nil
}

// decodeData는 누락된 필드에 기본값을 적용하고 state, trigger, message를 검증합니다.
func decodeData(raw []byte) (*Data, error) {
	data := &Data{
		State:       schema.StateIdle,
		EffortLevel: defaultEffortLevel,
		MaxSteps:    defaultMaxSteps,
		Trigger:     TriggerManual,
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, err
	}

	state, err := schema.ParseAgentState(string(data.State))
	if err != nil {
		return nil, err
	}
	data.State = state

	if data.Trigger == "" {
		data.Trigger = TriggerManual
	}
	if !data.Trigger.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrigger, data.Trigger)
	}

	for i, msg := range data.Messages {
		if err := msg.Validate(); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}
	if data.ConnectedServers == nil {
		data.ConnectedServers = map[string]string{}
	}
	return data, nil
}

func readIndex(path string) (*index, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	idx := &index{}
	if err := json.Unmarshal(raw, idx); err != nil {
		return nil, err
	}
	return idx, nil
}
