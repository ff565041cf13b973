package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cnap-oss/agentkernel/internal/checkpoint"
	"github.com/cnap-oss/agentkernel/internal/common"
	"github.com/cnap-oss/agentkernel/internal/sandbox"
	"github.com/cnap-oss/agentkernel/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// bootstrap logger는 설정 로드 전 에러 출력용입니다
	bootstrap, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	app := &cliApp{logger: bootstrap}
	rootCmd := newRootCommand(app)

	err = rootCmd.Execute()
	_ = app.logger.Sync()
	if err != nil {
		app.logger.Error("Command execution failed", zap.Error(err))
		os.Exit(1)
	}
}

// cliApp은 명령어 사이에서 공유되는 설정과 logger입니다.
type cliApp struct {
	configPath string
	agentID    string
	config     *common.Config
	logger     *zap.Logger
}

func newRootCommand(app *cliApp) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "agentkernel",
		Short:   "Agent execution kernel CLI",
		Long:    `agentkernel inspects agent checkpoints, previews resumes and browses recorded runs.`,
		Version: fmt.Sprintf("%s (built at %s)", Version, BuildTime),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&app.configPath, "config", "c", "", "설정 파일 경로 (기본: $CNAP_DIR/agentkernel.yaml)")
	rootCmd.PersistentFlags().StringVarP(&app.agentID, "agent", "a", "", "checkpoint namespace (기본: 설정의 checkpoint.agent_id)")

	// health 명령어
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check configuration, storage and sandbox health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context(), app, cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(buildCheckpointCommands(app))
	rootCmd.AddCommand(buildResumeCommand(app))
	rootCmd.AddCommand(buildRunCommands(app))

	return rootCmd
}

// init은 설정을 읽고 설정 기반 logger로 교체합니다.
func (app *cliApp) init() error {
	if app.config != nil {
		return nil
	}
	if err := common.InitConfig(app.configPath); err != nil {
		return fmt.Errorf("설정 로드 실패: %w", err)
	}
	app.config = common.GetConfig()

	logger, err := common.NewLoggerWithConfig("agentkernel", app.config)
	if err != nil {
		return fmt.Errorf("logger 초기화 실패: %w", err)
	}
	app.logger = logger
	return nil
}

// checkpointManager는 --agent 플래그를 반영한 Manager를 생성합니다.
func (app *cliApp) checkpointManager() *checkpoint.Manager {
	cfg := checkpoint.ConfigFromCommon(app.config)
	if app.agentID != "" {
		cfg.AgentID = app.agentID
	}
	return checkpoint.NewManager(app.logger.Named("checkpoint"), cfg)
}

// openStorage는 run 기록 저장소를 열고 정리 함수를 반환합니다.
func (app *cliApp) openStorage() (*storage.Repository, func(), error) {
	db, err := storage.Open(storage.ConfigFromCommon(app.config))
	if err != nil {
		return nil, func() {}, err
	}

	if err := storage.AutoMigrate(db); err != nil {
		_ = storage.Close(db)
		return nil, func() {}, err
	}

	repo, err := storage.NewRepository(db)
	if err != nil {
		_ = storage.Close(db)
		return nil, func() {}, err
	}

	cleanup := func() {
		if err := storage.Close(db); err != nil {
			app.logger.Warn("Failed to close storage", zap.Error(err))
		}
	}
	return repo, cleanup, nil
}

func runHealth(ctx context.Context, app *cliApp, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	healthy := true
	report := func(name string, err error) {
		if err != nil {
			healthy = false
			_, _ = fmt.Fprintf(out, "✗ %-10s %v\n", name, err)
			return
		}
		_, _ = fmt.Fprintf(out, "✓ %-10s OK\n", name)
	}

	report("config", app.config.Validate())

	mgr := app.checkpointManager()
	report("checkpoint", os.MkdirAll(mgr.AgentDir(), 0o755))

	repo, cleanup, err := app.openStorage()
	if err == nil {
		err = repo.DB().WithContext(ctx).Exec("SELECT 1").Error
		cleanup()
	}
	report("storage", err)

	if app.config.Sandbox.Enabled {
		report("sandbox", pingDocker(ctx))
	}

	if !healthy {
		return fmt.Errorf("health check failed")
	}
	_, _ = fmt.Fprintln(out, "OK")
	return nil
}

func pingDocker(ctx context.Context) error {
	client, err := sandbox.NewDockerClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	return sandbox.NewRetrier(nil).Do(ctx, "ping", client.Ping)
}
