package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cnap-oss/agentkernel/internal/storage"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func buildRunCommands(app *cliApp) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Run 기록 조회 명령어",
		Long: `저장소에 기록된 에이전트 run, step, checkpoint 이력을 조회합니다.

이 CLI는 에이전트를 직접 실행하지 않습니다. 기록은 에이전트를 구동하는 프로그램이
agent.WithRecorder(storage.NewRunRecorder(repo, logger))로 같은 database를 사용할 때 채워집니다.`,
	}

	// runs list
	var (
		limit     int
		agentName string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Run 목록 조회",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, cleanup, err := app.openStorage()
			if err != nil {
				return fmt.Errorf("저장소 열기 실패: %w", err)
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(orBackground(cmd.Context()), 1*time.Minute)
			defer cancel()
			return runRunsList(ctx, repo, agentName, limit, cmd.OutOrStdout())
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "최대 조회 개수 (0이면 전체)")
	listCmd.Flags().StringVar(&agentName, "name", "", "에이전트 이름 필터")

	// runs show
	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Run 상세 정보 조회",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, cleanup, err := app.openStorage()
			if err != nil {
				return fmt.Errorf("저장소 열기 실패: %w", err)
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(orBackground(cmd.Context()), 1*time.Minute)
			defer cancel()
			return runRunsShow(ctx, repo, args[0], cmd.OutOrStdout())
		},
	}

	runsCmd.AddCommand(listCmd)
	runsCmd.AddCommand(showCmd)

	return runsCmd
}

func runRunsList(ctx context.Context, repo *storage.Repository, agentName string, limit int, out io.Writer) error {
	runs, err := repo.ListRuns(ctx, agentName, limit)
	if err != nil {
		return fmt.Errorf("run 목록 조회 실패: %w", err)
	}

	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "기록된 run이 없습니다.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN ID\tAGENT\tSTATUS\tSTEPS\tTOKENS(IN/OUT)\tSTARTED\tENDED")
	_, _ = fmt.Fprintln(w, "------\t-----\t------\t-----\t--------------\t-------\t-----")

	for _, run := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\t%s\n",
			run.RunID,
			run.AgentName,
			run.Status,
			run.Steps,
			run.InputTokens,
			run.CompletionTokens,
			formatTime(&run.StartedAt),
			formatTime(run.EndedAt),
		)
	}
	return w.Flush()
}

func runRunsShow(ctx context.Context, repo *storage.Repository, runID string, out io.Writer) error {
	run, err := repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("run '%s'을(를) 찾을 수 없습니다", runID)
		}
		return fmt.Errorf("run 조회 실패: %w", err)
	}

	steps, err := repo.ListRunSteps(ctx, runID)
	if err != nil {
		return fmt.Errorf("run step 조회 실패: %w", err)
	}
	checkpoints, err := repo.ListCheckpoints(ctx, runID)
	if err != nil {
		return fmt.Errorf("checkpoint 기록 조회 실패: %w", err)
	}

	_, _ = fmt.Fprintf(out, "=== Run: %s ===\n\n", run.RunID)
	_, _ = fmt.Fprintf(out, "Agent:       %s\n", run.AgentName)
	_, _ = fmt.Fprintf(out, "상태:        %s (final %s)\n", run.Status, run.FinalState)
	_, _ = fmt.Fprintf(out, "요청:        %s\n", truncateString(run.Request, 80))
	_, _ = fmt.Fprintf(out, "Steps:       %d\n", run.Steps)
	_, _ = fmt.Fprintf(out, "메시지:      %d (tool %d)\n", run.Messages, run.ToolCalls)
	_, _ = fmt.Fprintf(out, "Token:       in %d / out %d\n", run.InputTokens, run.CompletionTokens)
	_, _ = fmt.Fprintf(out, "시작:        %s\n", formatTime(&run.StartedAt))
	_, _ = fmt.Fprintf(out, "종료:        %s\n", formatTime(run.EndedAt))
	if run.Error != "" {
		_, _ = fmt.Fprintf(out, "에러:        %s\n", run.Error)
	}
	if run.FinalPreview != "" {
		_, _ = fmt.Fprintf(out, "\n결과:\n%s\n", run.FinalPreview)
	}

	if len(steps) > 0 {
		_, _ = fmt.Fprintln(out, "\n--- Steps ---")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "STEP\tSTATUS\tRESULT")
		for _, s := range steps {
			result := s.ResultPreview
			if s.Error != "" {
				result = "error: " + s.Error
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", s.StepNo, s.Status, truncateString(result, 60))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(checkpoints) > 0 {
		_, _ = fmt.Fprintln(out, "\n--- Checkpoints ---")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tTRIGGER\tSTEP\tFILE")
		for _, c := range checkpoints {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.Name, c.Trigger, c.Step, c.FilePath)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}
