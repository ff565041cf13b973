package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cnap-oss/agentkernel/internal/checkpoint"
	"github.com/spf13/cobra"
)

func buildCheckpointCommands(app *cliApp) *cobra.Command {
	checkpointCmd := &cobra.Command{
		Use:     "checkpoint",
		Aliases: []string{"ckpt"},
		Short:   "Checkpoint 관리 명령어",
		Long:    "에이전트 checkpoint의 조회, 삭제, 정리 기능을 제공합니다.",
	}

	// checkpoint list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Checkpoint 목록 조회",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointList(cmd.Context(), app.checkpointManager(), cmd.OutOrStdout())
		},
	}

	// checkpoint show
	var showJSON bool
	showCmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Checkpoint 상세 정보 조회",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointShow(cmd.Context(), app.checkpointManager(), args[0], showJSON, cmd.OutOrStdout())
		},
	}
	showCmd.Flags().BoolVar(&showJSON, "json", false, "원본 JSON 출력")

	// checkpoint latest
	latestCmd := &cobra.Command{
		Use:   "latest",
		Short: "가장 최근 checkpoint 조회",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointLatest(cmd.Context(), app.checkpointManager(), cmd.OutOrStdout())
		},
	}

	// checkpoint delete
	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Checkpoint 삭제",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointDelete(cmd.Context(), app.checkpointManager(), args[0], cmd.OutOrStdout())
		},
	}

	// checkpoint clear
	var assumeYes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "모든 checkpoint 삭제",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := app.checkpointManager()
			if !assumeYes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
				fmt.Sprintf("'%s'의 checkpoint를 모두 삭제하시겠습니까? (y/N): ", mgr.Config().AgentID)) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "취소되었습니다.")
				return nil
			}
			return runCheckpointClear(cmd.Context(), mgr, cmd.OutOrStdout())
		},
	}
	clearCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "확인 없이 삭제")

	checkpointCmd.AddCommand(listCmd)
	checkpointCmd.AddCommand(showCmd)
	checkpointCmd.AddCommand(latestCmd)
	checkpointCmd.AddCommand(deleteCmd)
	checkpointCmd.AddCommand(clearCmd)

	return checkpointCmd
}

func runCheckpointList(ctx context.Context, mgr *checkpoint.Manager, out io.Writer) error {
	list, err := mgr.List(orBackground(ctx))
	if err != nil {
		return fmt.Errorf("checkpoint 목록 조회 실패: %w", err)
	}

	if len(list) == 0 {
		_, _ = fmt.Fprintf(out, "'%s'에 저장된 checkpoint가 없습니다.\n", mgr.Config().AgentID)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTRIGGER\tSTEP\tMESSAGES\tTOKENS\tCREATED\tDESCRIPTION")
	_, _ = fmt.Fprintln(w, "----\t-------\t----\t--------\t------\t-------\t-----------")

	for _, m := range list {
		tokens := "-"
		if m.TokenCount != nil {
			tokens = fmt.Sprintf("%d", *m.TokenCount)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			m.Name,
			m.Trigger,
			m.CurrentStep,
			m.MessageCount,
			tokens,
			m.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			truncateString(m.Description, 40),
		)
	}
	return w.Flush()
}

func runCheckpointShow(ctx context.Context, mgr *checkpoint.Manager, name string, raw bool, out io.Writer) error {
	data, err := mgr.Load(orBackground(ctx), name)
	if err != nil {
		return fmt.Errorf("checkpoint 조회 실패: %w", err)
	}

	if raw {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	printCheckpoint(out, mgr.PathFor(name), data)
	return nil
}

func runCheckpointLatest(ctx context.Context, mgr *checkpoint.Manager, out io.Writer) error {
	data, err := mgr.Latest(orBackground(ctx))
	if err != nil {
		return fmt.Errorf("최근 checkpoint 조회 실패: %w", err)
	}
	if data == nil {
		_, _ = fmt.Fprintf(out, "'%s'에 저장된 checkpoint가 없습니다.\n", mgr.Config().AgentID)
		return nil
	}

	printCheckpoint(out, "", data)
	return nil
}

func runCheckpointDelete(ctx context.Context, mgr *checkpoint.Manager, name string, out io.Writer) error {
	deleted, err := mgr.Delete(orBackground(ctx), name)
	if err != nil {
		return fmt.Errorf("checkpoint 삭제 실패: %w", err)
	}
	if !deleted {
		_, _ = fmt.Fprintf(out, "checkpoint '%s'을(를) 찾을 수 없습니다.\n", name)
		return nil
	}
	_, _ = fmt.Fprintf(out, "✓ checkpoint '%s' 삭제 완료\n", name)
	return nil
}

func runCheckpointClear(ctx context.Context, mgr *checkpoint.Manager, out io.Writer) error {
	n, err := mgr.ClearAll(orBackground(ctx))
	if err != nil {
		return fmt.Errorf("checkpoint 정리 실패: %w", err)
	}
	_, _ = fmt.Fprintf(out, "✓ checkpoint %d개 삭제 완료\n", n)
	return nil
}

func printCheckpoint(out io.Writer, path string, data *checkpoint.Data) {
	_, _ = fmt.Fprintf(out, "=== Checkpoint: %s ===\n\n", data.CheckpointID)
	if path != "" {
		_, _ = fmt.Fprintf(out, "파일:        %s\n", path)
	}
	_, _ = fmt.Fprintf(out, "Agent:       %s\n", data.AgentName)
	_, _ = fmt.Fprintf(out, "Trigger:     %s\n", data.Trigger)
	_, _ = fmt.Fprintf(out, "상태:        %s\n", data.State)
	_, _ = fmt.Fprintf(out, "Step:        %d / %d (effort %s)\n", data.CurrentStep, data.MaxSteps, data.EffortLevel)
	_, _ = fmt.Fprintf(out, "메시지:      %d\n", len(data.Messages))
	if data.TokenCount != nil {
		_, _ = fmt.Fprintf(out, "Token:       %d\n", *data.TokenCount)
	}
	if data.CompactionCount > 0 {
		_, _ = fmt.Fprintf(out, "Compaction:  %d회 (%d token 절약)\n", data.CompactionCount, data.TotalTokensSaved)
	}
	if len(data.LoadedToolNames) > 0 {
		_, _ = fmt.Fprintf(out, "Tools:       %s\n", strings.Join(data.LoadedToolNames, ", "))
	}
	if data.Description != "" {
		_, _ = fmt.Fprintf(out, "설명:        %s\n", data.Description)
	}
	_, _ = fmt.Fprintf(out, "생성일:      %s\n", data.CreatedAt.Local().Format("2006-01-02 15:04:05"))
}

// confirm은 y/yes 입력일 때만 true를 반환합니다.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	_, _ = fmt.Fprint(out, prompt)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

