package agent

// EffortLevel은 최소 step 예산을 결정하는 정책 값입니다.
type EffortLevel string

const (
	EffortLow    EffortLevel = "low"
	EffortMedium EffortLevel = "medium"
	EffortHigh   EffortLevel = "high"
)

var effortSteps = map[EffortLevel]int{
	EffortLow:    10,
	EffortMedium: 20,
	EffortHigh:   50,
}

// defaultEffortSteps는 알 수 없는 effort level에 적용되는 값입니다 (medium과 같음).
const defaultEffortSteps = 20

// EffortSteps는 level의 최소 step 수를 반환합니다.
func EffortSteps(level EffortLevel) int {
	if n, ok := effortSteps[level]; ok {
		return n
	}
	return defaultEffortSteps
}

// EffectiveMaxSteps는 configured와 effort 테이블 값 중 큰 값을 반환합니다.
func EffectiveMaxSteps(level EffortLevel, configured int) int {
	return max(configured, EffortSteps(level))
}
