package zlog

import (
	"fmt"

	"github.com/spf13/viper" // 配置管理工具库
)

// 本地轮转文件策略
// tag 被 viper 用来匹配字段
type FileConfig struct {
	Path       string `mapstructure:"path"`        // 日志文件路径
	MaxSizeMB  int    `mapstructure:"max_size"`    // 单个日志文件最大容量（MB）
	MaxBackups int    `mapstructure:"max_backups"` // 保留旧文件数量
	MaxAgeDay  int    `mapstructure:"max_age"`     // 最长保存天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧日志文件
}

// 日志配置，作为服务配置的 log 子树加载
type Config struct {
	Service      string     `mapstructure:"service"`       // 归属服务名
	Level        string     `mapstructure:"level"`         // 日志级别，debug|info|warn|error
	Encoding     string     `mapstructure:"encoding"`      // 输出格式，json|console
	Stdout       bool       `mapstructure:"stdout"`        // 是否把日志同时输出到控制台
	File         FileConfig `mapstructure:"file"`          // 文件相关配置
	EnableMetric bool       `mapstructure:"enable_metric"` // 是否上报 Prometheus 指标
}

// SetDefaults 在调用方的 viper 实例上注册日志默认值，prefix 一般为 "log"
func SetDefaults(v *viper.Viper, prefix string) {
	key := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}

	v.SetDefault(key("service"), "unknown")
	v.SetDefault(key("level"), "info")
	v.SetDefault(key("encoding"), "json")
	v.SetDefault(key("stdout"), true)
	v.SetDefault(key("file.path"), "")
	v.SetDefault(key("file.max_size"), 100)
	v.SetDefault(key("file.max_backups"), 60)
	v.SetDefault(key("file.max_age"), 30)
	v.SetDefault(key("file.compress"), false)
	v.SetDefault(key("enable_metric"), true)
}

// Validate 严格校验，并把文件策略里的非法值修正为默认值
func (c *Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("配置错误：log.service 不能为空")
	}

	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("配置错误：log.level 只能是 debug/info/warn/error")
	}

	switch c.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("配置错误：log.encoding 只能是 json/console")
	}

	// 关闭 stdout 时必须有文件输出，否则日志无处可去
	if !c.Stdout && c.File.Path == "" {
		return fmt.Errorf("配置错误：log.stdout 为 false 时，log.file.path 不能为空")
	}

	if c.File.Path != "" {
		if c.File.MaxSizeMB <= 0 {
			c.File.MaxSizeMB = 100
		}
		if c.File.MaxBackups < 0 {
			c.File.MaxBackups = 60
		}
		if c.File.MaxAgeDay < 0 {
			c.File.MaxAgeDay = 30
		}
	}

	return nil
}
