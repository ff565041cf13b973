package common

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLoggerWithConfig는 cfg.App 설정으로 이름 붙은 zap logger를 생성합니다.
// production 환경은 JSON, 그 외는 개발용 console 형식을 사용합니다.
// cfg가 nil이면 DefaultConfig를 사용하고, 잘못된 log level은 에러로 반환합니다.
func NewLoggerWithConfig(name string, cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	zc := zap.NewDevelopmentConfig()
	if cfg.App.ENV == "production" {
		zc = zap.NewProductionConfig()
	}

	if cfg.App.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(cfg.App.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid app.log_level %q: %w", cfg.App.LogLevel, err)
		}
		zc.Level = level
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	if name == "" {
		return logger, nil
	}
	return logger.Named(name), nil
}
