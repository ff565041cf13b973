package storage

import (
	"time"

	"github.com/cnap-oss/agentkernel/internal/common"
	gormlogger "gorm.io/gorm/logger"
)

// Config는 GORM 데이터베이스 설정 값을 보관합니다.
type Config struct {
	DSN                  string
	LogLevel             gormlogger.LogLevel
	MaxIdleConns         int
	MaxOpenConns         int
	ConnMaxLifetime      time.Duration
	SkipDefaultTxn       bool
	PrepareStmt          bool
	DisableAutomaticPing bool
}

// ConfigFromCommon은 중앙 설정의 database 항목으로 Config를 구성합니다.
func ConfigFromCommon(cfg *common.Config) Config {
	return Config{
		DSN:                  cfg.Database.DSN,
		LogLevel:             cfg.Database.LogLevel,
		MaxIdleConns:         cfg.Database.MaxIdleConns,
		MaxOpenConns:         cfg.Database.MaxOpenConns,
		ConnMaxLifetime:      cfg.Database.ConnMaxLifetime,
		SkipDefaultTxn:       cfg.Database.SkipDefaultTxn,
		PrepareStmt:          cfg.Database.PrepareStmt,
		DisableAutomaticPing: cfg.Database.DisableAutomaticPing,
	}
}

// ConfigFromEnv는 common.GetConfig()로 로드된 설정에서 Config를 구성합니다.
func ConfigFromEnv() Config {
	return ConfigFromCommon(common.GetConfig())
}
