// Package storage는 run 기록(runs, run_steps, run_events, checkpoints)을 GORM으로 저장합니다.
//
// 기록은 에이전트를 구동하는 쪽에서 연결합니다:
//
//	db, _ := storage.Open(storage.ConfigFromCommon(cfg))
//	_ = storage.AutoMigrate(db)
//	repo, _ := storage.NewRepository(db)
//	a, _ := agent.New(name, stepper, agent.WithRecorder(storage.NewRunRecorder(repo, logger)))
//
// agentkernel CLI의 runs 명령어는 이렇게 쌓인 기록을 읽기만 합니다.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// IsPostgresDSN은 DSN이 PostgreSQL 연결 문자열인지 확인합니다.
func IsPostgresDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=")
}

// Open은 DSN 종류에 맞는 드라이버로 데이터베이스를 엽니다.
// PostgreSQL이 아니면 SQLite 파일로 취급하고 상위 디렉토리를 만듭니다.
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage: empty DSN")
	}

	var dialector gorm.Dialector
	if IsPostgresDSN(cfg.DSN) {
		dialector = postgres.Open(cfg.DSN)
	} else {
		if path := sqlitePath(cfg.DSN); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("storage: create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	}

	logLevel := cfg.LogLevel
	if logLevel == 0 {
		logLevel = gormlogger.Warn
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(logLevel),
		SkipDefaultTransaction: cfg.SkipDefaultTxn,
		PrepareStmt:            cfg.PrepareStmt,
		DisableAutomaticPing:   cfg.DisableAutomaticPing,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// AutoMigrate는 run 기록 테이블을 생성하거나 갱신합니다.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("storage: auto migrate: %w", err)
	}
	return nil
}

// Close는 내부 연결 풀을 닫습니다.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// sqlitePath는 SQLite DSN에서 파일 경로를 추출합니다. 메모리 DB면 빈 문자열입니다.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.Contains(path, ":memory:") {
		return ""
	}
	return path
}
