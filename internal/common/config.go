package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	gormlogger "gorm.io/gorm/logger"
)

// Config는 agentkernel의 모든 설정을 관리합니다.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Agent      AgentConfig      `yaml:"agent"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Compaction CompactionConfig `yaml:"compaction"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Directory  DirectoryConfig  `yaml:"directory"`
}

// AppConfig는 애플리케이션 기본 설정입니다.
type AppConfig struct {
	// ENV는 실행 환경입니다 (development, production)
	ENV string `yaml:"env"`
	// LogLevel은 애플리케이션 로그 레벨입니다 (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig는 run 기록 저장소 설정입니다.
type DatabaseConfig struct {
	// DSN은 데이터베이스 연결 문자열입니다. postgres:// 로 시작하지 않으면 SQLite 파일 경로로 취급합니다.
	DSN string `yaml:"dsn"`
	// LogLevel은 GORM 로그 레벨입니다
	LogLevel gormlogger.LogLevel `yaml:"log_level"`
	// MaxIdleConns는 연결 풀의 idle 연결 개수입니다
	MaxIdleConns int `yaml:"max_idle_conns"`
	// MaxOpenConns는 연결 풀의 최대 연결 개수입니다
	MaxOpenConns int `yaml:"max_open_conns"`
	// ConnMaxLifetime은 연결의 최대 수명입니다
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// SkipDefaultTxn은 기본 트랜잭션을 스킵할지 여부입니다
	SkipDefaultTxn bool `yaml:"skip_default_txn"`
	// PrepareStmt는 prepared statement 캐시를 사용할지 여부입니다
	PrepareStmt bool `yaml:"prepare_stmt"`
	// DisableAutomaticPing은 자동 ping을 비활성화할지 여부입니다
	DisableAutomaticPing bool `yaml:"disable_automatic_ping"`
}

// AgentConfig는 run loop 기본값입니다.
type AgentConfig struct {
	// EffortLevel은 low, medium, high 중 하나입니다
	EffortLevel string `yaml:"effort_level"`
	// MaxSteps는 effort 테이블과 비교되는 최소 step 수입니다
	MaxSteps int `yaml:"max_steps"`
	// DuplicateThreshold는 stuck 판정에 필요한 중복 assistant 응답 수입니다
	DuplicateThreshold int `yaml:"duplicate_threshold"`
	// Model은 token 계산에 사용할 모델 이름입니다
	Model string `yaml:"model"`
}

// CheckpointConfig는 checkpoint 정책입니다.
type CheckpointConfig struct {
	AgentID          string `yaml:"agent_id"`
	MaxCheckpoints   int    `yaml:"max_checkpoints"`
	AutoInterval     int    `yaml:"auto_interval"`
	OnError          bool   `yaml:"on_error"`
	BeforeCompaction bool   `yaml:"before_compaction"`
}

// CompactionConfig는 context compaction 설정입니다.
type CompactionConfig struct {
	Enabled         bool    `yaml:"enabled"`
	ThresholdTokens int     `yaml:"threshold_tokens"`
	TargetRatio     float64 `yaml:"target_ratio"`
	KeepRecent      int     `yaml:"keep_recent"`
}

// SandboxConfig는 Docker sandbox 설정입니다.
type SandboxConfig struct {
	// Enabled가 false이면 cleanup hook은 아무 일도 하지 않습니다
	Enabled bool `yaml:"enabled"`
	// Image는 sandbox container 이미지입니다
	Image string `yaml:"image"`
	// StopTimeout은 강제 삭제 전 정상 종료를 기다리는 시간입니다
	StopTimeout time.Duration `yaml:"stop_timeout"`
	// ContainerPort가 있으면 해당 포트를 127.0.0.1의 임의 포트로 노출합니다
	ContainerPort string `yaml:"container_port"`
	// MaxRetries는 일시적인 Docker 에러의 최대 재시도 횟수입니다
	MaxRetries int `yaml:"max_retries"`
	// RetryBackoff는 첫 재시도 전 대기 시간입니다
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DirectoryConfig는 디렉토리 경로 설정입니다.
type DirectoryConfig struct {
	// CNAPDir은 기본 데이터 디렉토리입니다 (환경 변수 CNAP_DIR로만 설정 가능, 기본값: $HOME/.cnap)
	CNAPDir string `yaml:"-"`
	// CheckpointDir은 checkpoint 기본 디렉토리입니다
	CheckpointDir string `yaml:"checkpoint_dir"`
	// SQLiteDatabase는 SQLite 데이터베이스 파일 경로입니다
	SQLiteDatabase string `yaml:"sqlite_database"`
}

var (
	instance *Config
	once     sync.Once
	initErr  error
	mu       sync.RWMutex
)

// InitConfig는 설정을 초기화합니다.
// .env 파일이 있으면 먼저 환경 변수로 로드합니다.
// configPath가 비어있으면 ${CNAP_DIR}/agentkernel.yaml에서 로드를 시도하고, 파일이 없으면 환경 변수에서 로드합니다.
// 파일에서 로드한 후 환경 변수로 오버라이드됩니다.
func InitConfig(configPath string) error {
	once.Do(func() {
		_ = godotenv.Load()

		if configPath == "" {
			configPath = filepath.Join(getCNAPDir(), "agentkernel.yaml")
		}

		var cfg *Config
		if _, statErr := os.Stat(configPath); statErr == nil {
			cfg, initErr = LoadConfigFromFile(configPath)
		} else {
			cfg, initErr = LoadConfigFromEnv()
		}

		mu.Lock()
		instance = cfg
		mu.Unlock()
	})
	return initErr
}

// GetConfig는 싱글톤 Config 인스턴스를 반환합니다.
// InitConfig가 호출되지 않았으면 기본 경로로 초기화합니다.
func GetConfig() *Config {
	mu.RLock()
	cfg := instance
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	_ = InitConfig("")

	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		return DefaultConfig()
	}
	return instance
}

// DefaultConfig는 환경 변수를 반영하지 않은 기본 설정을 반환합니다.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			ENV:      "production",
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			LogLevel:        gormlogger.Warn,
			MaxIdleConns:    5,
			MaxOpenConns:    20,
			ConnMaxLifetime: 30 * time.Minute,
			SkipDefaultTxn:  true,
		},
		Agent: AgentConfig{
			EffortLevel:        "medium",
			MaxSteps:           10,
			DuplicateThreshold: 2,
			Model:              "gpt-4o",
		},
		Checkpoint: CheckpointConfig{
			AgentID:          "default",
			MaxCheckpoints:   10,
			AutoInterval:     5,
			OnError:          true,
			BeforeCompaction: true,
		},
		Compaction: CompactionConfig{
			Enabled:         true,
			ThresholdTokens: 100000,
			TargetRatio:     0.5,
			KeepRecent:      10,
		},
		Sandbox: SandboxConfig{
			Image:        "python:3.12-slim",
			StopTimeout:  10 * time.Second,
			MaxRetries:   3,
			RetryBackoff: 500 * time.Millisecond,
		},
	}
}

// LoadConfigFromFile은 YAML 파일에서 설정을 로드합니다.
// 파일에 없는 항목은 기본값을 유지합니다.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("설정 파일 읽기 실패: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("설정 파일 파싱 실패: %w", err)
	}

	cfg = mergeWithEnv(cfg)
	cfg.Directory.CNAPDir = getCNAPDir()
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = defaultDSN(cfg)
	}

	return cfg, nil
}

// LoadConfigFromEnv는 기본값 위에 환경 변수를 적용해 설정을 로드합니다.
func LoadConfigFromEnv() (*Config, error) {
	cfg := mergeWithEnv(DefaultConfig())
	cfg.Directory.CNAPDir = getCNAPDir()
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = defaultDSN(cfg)
	}
	return cfg, nil
}

// mergeWithEnv는 설정을 CNAP_* 환경 변수로 오버라이드합니다.
func mergeWithEnv(cfg *Config) *Config {
	// App
	if env := os.Getenv("CNAP_ENV"); env != "" {
		cfg.App.ENV = env
	}
	if logLevel := os.Getenv("CNAP_LOG_LEVEL"); logLevel != "" {
		cfg.App.LogLevel = logLevel
	}

	// Database
	if dsn := os.Getenv("CNAP_DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if dsn := os.Getenv("CNAP_DB_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if logLevel := os.Getenv("CNAP_DB_LOG_LEVEL"); logLevel != "" {
		cfg.Database.LogLevel = parseLogLevel(logLevel)
	}
	cfg.Database.MaxIdleConns = parseIntWithDefault(os.Getenv("CNAP_DB_MAX_IDLE"), cfg.Database.MaxIdleConns)
	cfg.Database.MaxOpenConns = parseIntWithDefault(os.Getenv("CNAP_DB_MAX_OPEN"), cfg.Database.MaxOpenConns)
	cfg.Database.ConnMaxLifetime = parseDurationWithDefault(os.Getenv("CNAP_DB_CONN_LIFETIME"), cfg.Database.ConnMaxLifetime)
	cfg.Database.SkipDefaultTxn = parseBoolWithDefault(os.Getenv("CNAP_DB_SKIP_DEFAULT_TXN"), cfg.Database.SkipDefaultTxn)
	cfg.Database.PrepareStmt = parseBoolWithDefault(os.Getenv("CNAP_DB_PREPARE_STMT"), cfg.Database.PrepareStmt)
	if v, ok := lookupEnvBool("CNAP_DB_DISABLE_AUTO_PING"); ok {
		cfg.Database.DisableAutomaticPing = v
	}

	// Agent
	if effort := os.Getenv("CNAP_AGENT_EFFORT"); effort != "" {
		cfg.Agent.EffortLevel = effort
	}
	cfg.Agent.MaxSteps = parseIntWithDefault(os.Getenv("CNAP_AGENT_MAX_STEPS"), cfg.Agent.MaxSteps)
	cfg.Agent.DuplicateThreshold = parseIntWithDefault(os.Getenv("CNAP_AGENT_DUPLICATE_THRESHOLD"), cfg.Agent.DuplicateThreshold)
	if model := os.Getenv("CNAP_AGENT_MODEL"); model != "" {
		cfg.Agent.Model = model
	}

	// Checkpoint
	if agentID := os.Getenv("CNAP_CHECKPOINT_AGENT_ID"); agentID != "" {
		cfg.Checkpoint.AgentID = agentID
	}
	cfg.Checkpoint.MaxCheckpoints = parseIntWithDefault(os.Getenv("CNAP_CHECKPOINT_MAX"), cfg.Checkpoint.MaxCheckpoints)
	cfg.Checkpoint.AutoInterval = parseIntWithDefault(os.Getenv("CNAP_CHECKPOINT_INTERVAL"), cfg.Checkpoint.AutoInterval)
	cfg.Checkpoint.OnError = parseBoolWithDefault(os.Getenv("CNAP_CHECKPOINT_ON_ERROR"), cfg.Checkpoint.OnError)
	cfg.Checkpoint.BeforeCompaction = parseBoolWithDefault(os.Getenv("CNAP_CHECKPOINT_BEFORE_COMPACTION"), cfg.Checkpoint.BeforeCompaction)

	// Compaction
	cfg.Compaction.Enabled = parseBoolWithDefault(os.Getenv("CNAP_COMPACTION_ENABLED"), cfg.Compaction.Enabled)
	cfg.Compaction.ThresholdTokens = parseIntWithDefault(os.Getenv("CNAP_COMPACTION_THRESHOLD"), cfg.Compaction.ThresholdTokens)
	cfg.Compaction.KeepRecent = parseIntWithDefault(os.Getenv("CNAP_COMPACTION_KEEP_RECENT"), cfg.Compaction.KeepRecent)
	cfg.Compaction.TargetRatio = parseFloatWithDefault(os.Getenv("CNAP_COMPACTION_TARGET_RATIO"), cfg.Compaction.TargetRatio)

	// Sandbox
	cfg.Sandbox.Enabled = parseBoolWithDefault(os.Getenv("CNAP_SANDBOX_ENABLED"), cfg.Sandbox.Enabled)
	if image := os.Getenv("CNAP_SANDBOX_IMAGE"); image != "" {
		cfg.Sandbox.Image = image
	}
	cfg.Sandbox.StopTimeout = parseDurationWithDefault(os.Getenv("CNAP_SANDBOX_STOP_TIMEOUT"), cfg.Sandbox.StopTimeout)
	if port := os.Getenv("CNAP_SANDBOX_CONTAINER_PORT"); port != "" {
		cfg.Sandbox.ContainerPort = port
	}
	cfg.Sandbox.MaxRetries = parseIntWithDefault(os.Getenv("CNAP_SANDBOX_MAX_RETRIES"), cfg.Sandbox.MaxRetries)
	cfg.Sandbox.RetryBackoff = parseDurationWithDefault(os.Getenv("CNAP_SANDBOX_RETRY_BACKOFF"), cfg.Sandbox.RetryBackoff)

	// Directory
	if checkpointDir := os.Getenv("CNAP_CHECKPOINT_DIR"); checkpointDir != "" {
		cfg.Directory.CheckpointDir = checkpointDir
	}
	if sqliteDB := os.Getenv("CNAP_SQLITE_DATABASE"); sqliteDB != "" {
		cfg.Directory.SQLiteDatabase = sqliteDB
	}

	return cfg
}

// defaultDSN은 DSN이 없을 때 사용할 SQLite 파일 경로를 계산합니다.
// GetDatabasePath() 호출 대신 직접 계산합니다 (순환 참조 방지).
func defaultDSN(cfg *Config) string {
	if cfg.Directory.SQLiteDatabase != "" {
		return cfg.Directory.SQLiteDatabase
	}
	return filepath.Join(getCNAPDir(), "agentkernel.db")
}

// getCNAPDir은 CNAP_DIR 환경 변수를 반환하거나 기본값을 계산합니다.
func getCNAPDir() string {
	cnapDir := os.Getenv("CNAP_DIR")
	if cnapDir != "" {
		return cnapDir
	}

	// CNAP_DIR이 없으면 $HOME/.cnap 사용
	if homeDir := os.Getenv("HOME"); homeDir != "" {
		return filepath.Join(homeDir, ".cnap")
	}

	// Fallback: ./data
	return "./data"
}

// Helper functions

func parseLogLevel(value string) gormlogger.LogLevel {
	switch value {
	case "silent", "SILENT":
		return gormlogger.Silent
	case "error", "ERROR":
		return gormlogger.Error
	case "warn", "WARN":
		return gormlogger.Warn
	case "info", "INFO":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func parseIntWithDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseFloatWithDefault(value string, def float64) float64 {
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseDurationWithDefault(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

func parseBoolWithDefault(value string, def bool) bool {
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func lookupEnvBool(key string) (bool, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, false
	}
	return parsed, true
}

// Validate는 설정 값의 범위를 검증합니다.
func (c *Config) Validate() error {
	var errs []error

	switch c.Agent.EffortLevel {
	case "low", "medium", "high":
	default:
		errs = append(errs, fmt.Errorf("agent.effort_level must be low, medium or high: %q", c.Agent.EffortLevel))
	}
	if c.Agent.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("agent.max_steps must be >= 1: %d", c.Agent.MaxSteps))
	}
	if c.Checkpoint.MaxCheckpoints < 1 {
		errs = append(errs, fmt.Errorf("checkpoint.max_checkpoints must be >= 1: %d", c.Checkpoint.MaxCheckpoints))
	}
	if c.Checkpoint.AutoInterval < 0 {
		errs = append(errs, fmt.Errorf("checkpoint.auto_interval must be >= 0: %d", c.Checkpoint.AutoInterval))
	}
	if c.Compaction.ThresholdTokens < 0 {
		errs = append(errs, fmt.Errorf("compaction.threshold_tokens must be >= 0: %d", c.Compaction.ThresholdTokens))
	}
	if c.Compaction.TargetRatio <= 0 || c.Compaction.TargetRatio > 1 {
		errs = append(errs, fmt.Errorf("compaction.target_ratio must be in (0, 1]: %v", c.Compaction.TargetRatio))
	}
	if c.Sandbox.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("sandbox.max_retries must be >= 0: %d", c.Sandbox.MaxRetries))
	}
	if c.Compaction.KeepRecent < 0 {
		errs = append(errs, fmt.Errorf("compaction.keep_recent must be >= 0: %d", c.Compaction.KeepRecent))
	}

	return errors.Join(errs...)
}
