// Package reviewer는 실행 커널 위에서 동작하는 검토(critic) 에이전트를 제공합니다.
package reviewer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cnap-oss/agentkernel/internal/agent"
	"github.com/cnap-oss/agentkernel/internal/llm"
	"github.com/cnap-oss/agentkernel/internal/schema"
	"go.uber.org/zap"
)

const (
	// Name은 reviewer 에이전트의 기본 이름입니다.
	Name = "Reviewer"

	description = "A senior auditor agent that reviews outputs for quality, correctness, and best practices"

	noContent       = "No content to review"
	expectedUser    = "Expected user message with content to review"
	noReview        = "No review generated"
	reviewFailedFmt = "Review failed: %v"
)

// SystemPrompt는 reviewer가 모델에 전달하는 system 메시지입니다.
const SystemPrompt = `You are a senior software auditor reviewing the output of another agent.

Before grading, work through:
1. Correctness: does the solution solve the stated problem, including edge cases?
2. Robustness: are failures handled and reported clearly?
3. Quality: is the result readable and idiomatic?
4. Security: is input validated and are secrets kept out of the output?
5. Verification: is there evidence the result was tested?

PASS means the output is production-ready or close to it.
FAIL means it has logic errors, missing error handling, security issues, or fails basic cases.

Respond with your step-by-step analysis, then exactly one of
**GRADE: PASS** or **GRADE: FAIL**
followed by ISSUES FOUND, SUGGESTIONS and a one-sentence SUMMARY.`

// Grade는 검토 결과 등급입니다.
type Grade string

const (
	GradePass Grade = "PASS"
	GradeFail Grade = "FAIL"
)

var (
	// ErrNoModel은 모델 클라이언트 없이 reviewer를 만들 때 반환됩니다.
	ErrNoModel = errors.New("reviewer requires a model client")
	// ErrReviewFailed는 이번 검토에서 모델 응답을 받지 못했을 때 반환됩니다.
	ErrReviewFailed = errors.New("review failed")
)

// Result는 한 번의 검토 결과입니다.
type Result struct {
	Review string
	Grade  Grade
}

// Reviewer는 검토 요청 하나에 한 step만 실행하는 에이전트입니다.
type Reviewer struct {
	agent  *agent.Agent
	logger *zap.Logger

	// 현재 Review 동안 step이 남긴 결과입니다.
	review   *string
	modelErr error
}

// New는 model을 사용하는 Reviewer를 생성합니다. opts는 기본 옵션 뒤에 적용됩니다.
func New(model llm.Client, logger *zap.Logger, opts ...agent.Option) (*Reviewer, error) {
	if model == nil {
		return nil, ErrNoModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Reviewer{logger: logger}
	base := []agent.Option{
		agent.WithLogger(logger),
		agent.WithModel(model),
		agent.WithDescription(description),
		agent.WithSystemPrompt(SystemPrompt),
		agent.WithMaxSteps(1),
	}

	a, err := agent.New(Name, agent.StepFunc(r.step), append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	r.agent = a
	return r, nil
}

// Agent는 내부 에이전트를 반환합니다.
func (r *Reviewer) Agent() *agent.Agent {
	return r.agent
}

// Review는 output을 검토 요청으로 실행하고 등급을 추출합니다.
// 이번 run의 step이 만든 검토만 결과로 사용하며, 없으면 ErrReviewFailed를 반환합니다.
func (r *Reviewer) Review(ctx context.Context, output string) (Result, error) {
	r.review, r.modelErr = nil, nil

	if _, err := r.agent.Run(ctx, output); err != nil {
		return Result{}, err
	}
	if r.modelErr != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrReviewFailed, r.modelErr)
	}
	if r.review == nil {
		return Result{}, fmt.Errorf("%w: reviewer produced no review", ErrReviewFailed)
	}

	return Result{
		Review: *r.review,
		Grade:  ExtractGrade(*r.review, r.logger),
	}, nil
}

// step은 마지막 user 메시지 하나만 모델에 보내 검토를 받습니다.
// 모델 호출이 실패하면 실패 문구를 결과로 남기고 run을 마칩니다.
func (r *Reviewer) step(ctx context.Context, a *agent.Agent) (string, error) {
	last, ok := a.Memory().Last()
	if !ok {
		return noContent, nil
	}
	if last.Role != schema.RoleUser {
		return expectedUser, nil
	}

	system := []schema.Message{schema.SystemMessage(a.SystemPrompt())}
	response, err := a.Model().Ask(ctx, []schema.Message{last}, system)
	if err != nil {
		r.logger.Error("Reviewer model call failed", zap.Error(err))
		r.modelErr = err
		a.Finish()
		return fmt.Sprintf(reviewFailedFmt, err), nil
	}

	if response == "" {
		response = noReview
	}
	if err := a.UpdateMemory(schema.RoleAssistant, response); err != nil {
		return "", err
	}
	r.review = &response
	a.Finish()
	return response, nil
}

// ExtractGrade는 검토 문구에서 "GRADE: PASS" 또는 "GRADE: FAIL"을 찾습니다 (대소문자 무시).
// 둘 다 없으면 경고를 남기고 PASS로 간주합니다.
func ExtractGrade(review string, logger *zap.Logger) Grade {
	upper := strings.ToUpper(review)
	switch {
	case strings.Contains(upper, "GRADE: PASS"):
		return GradePass
	case strings.Contains(upper, "GRADE: FAIL"):
		return GradeFail
	}

	if logger != nil {
		logger.Warn("Could not determine grade from review, defaulting to PASS")
	}
	return GradePass
}
