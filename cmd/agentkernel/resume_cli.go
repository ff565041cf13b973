package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cnap-oss/agentkernel/internal/agent"
	"github.com/cnap-oss/agentkernel/internal/compaction"
	"github.com/cnap-oss/agentkernel/internal/llm"
	"github.com/spf13/cobra"
)

// errPreviewOnly는 resume 미리보기 에이전트가 실행될 때 반환됩니다.
var errPreviewOnly = errors.New("resume preview agent cannot run steps")

func buildResumeCommand(app *cliApp) *cobra.Command {
	var agentName string

	resumeCmd := &cobra.Command{
		Use:   "resume <name|path>",
		Short: "Checkpoint에서 에이전트 복원 미리보기",
		Long: `checkpoint 파일로 에이전트를 복원하고 재개 시점의 상태를 출력합니다.
인자가 존재하는 파일 경로이면 그 파일을, 아니면 현재 namespace의 checkpoint 이름으로 찾습니다.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(orBackground(cmd.Context()), 1*time.Minute)
			defer cancel()
			return runResume(ctx, app, args[0], agentName, cmd.OutOrStdout())
		},
	}
	resumeCmd.Flags().StringVar(&agentName, "name", "", "복원할 에이전트 이름 (기본: checkpoint의 agent_name)")

	return resumeCmd
}

func runResume(ctx context.Context, app *cliApp, target, agentName string, out io.Writer) error {
	path := target
	if _, err := os.Stat(target); err != nil {
		path = app.checkpointManager().PathFor(target)
	}

	counter := llm.NewTiktokenCounter(app.config.Agent.Model, app.logger.Named("tokens"))
	compactor := compaction.NewContextManager(app.logger.Named("compaction"), compaction.ConfigFromCommon(app.config))

	stepper := agent.StepFunc(func(context.Context, *agent.Agent) (string, error) {
		return "", errPreviewOnly
	})
	a, err := agent.FromCheckpoint(ctx, path, agentName, stepper,
		agent.WithLogger(app.logger.Named("agent")),
		agent.WithCompactor(compactor),
		agent.WithTokenCounter(counter),
	)
	if err != nil {
		return fmt.Errorf("에이전트 복원 실패: %w", err)
	}

	health, err := compactor.CheckHealth(ctx, a.Messages(), counter)
	if err != nil {
		return fmt.Errorf("context 점검 실패: %w", err)
	}
	stats := compactor.Stats()

	_, _ = fmt.Fprintf(out, "=== Resume: %s ===\n\n", a.Name())
	_, _ = fmt.Fprintf(out, "파일:        %s\n", path)
	_, _ = fmt.Fprintf(out, "상태:        %s\n", a.State())
	_, _ = fmt.Fprintf(out, "Step:        %d\n", a.CurrentStep())
	_, _ = fmt.Fprintf(out, "Budget:      %d (effort %s, max %d)\n", a.EffectiveMaxSteps(), a.EffortLevel(), a.MaxSteps())
	_, _ = fmt.Fprintf(out, "메시지:      %d\n", len(a.Messages()))
	_, _ = fmt.Fprintf(out, "Token:       %d / %d", health.TokenCount, health.ThresholdTokens)
	if health.NeedsCompaction {
		_, _ = fmt.Fprint(out, " (compaction 필요)")
	}
	_, _ = fmt.Fprintln(out)
	if stats.CompactionCount > 0 {
		_, _ = fmt.Fprintf(out, "Compaction:  %d회 (%d token 절약)\n", stats.CompactionCount, stats.TotalTokensSaved)
	}

	if msgs := a.Messages(); len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		_, _ = fmt.Fprintf(out, "\n마지막 메시지 [%s]:\n%s\n", last.Role, truncateString(last.Content, 200))
	}
	return nil
}
