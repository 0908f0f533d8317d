package zlog

import (
	"os"

	// 按大小/天数/备份数切分日志文件，可 gzip 旧文件
	"gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap/zapcore"
)

// buildWriteSyncer 根据配置组装所有输出
func buildWriteSyncer(cfg Config) zapcore.WriteSyncer {
	var syncers []zapcore.WriteSyncer

	if cfg.Stdout {
		syncers = append(syncers, zapcore.AddSync(os.Stdout))
	}

	if p := cfg.File.Path; p != "" {
		syncers = append(syncers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   p,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxAge:     cfg.File.MaxAgeDay,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
		}))
	}

	// 两路输出都关闭时退回 stderr，避免日志静默丢失
	if len(syncers) == 0 {
		return zapcore.Lock(os.Stderr)
	}
	if len(syncers) == 1 {
		return syncers[0]
	}
	return zapcore.NewMultiWriteSyncer(syncers...)
}
