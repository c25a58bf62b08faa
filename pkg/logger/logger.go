package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// savedConfig 保存的日志配置（用于周期切换）
	savedConfig Config
	// currentSlug 当前周期 slug（btc-updown-15m-xxxx），按周期命名时作为文件名
	currentSlug string
	// logMu 日志文件切换锁
	logMu sync.Mutex
)

// Config 日志配置
type Config struct {
	Level      string // 日志级别: debug, info, warn, error
	OutputFile string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    // 日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留旧日志文件的天数
	Compress   bool   // 是否压缩旧日志文件
	LogByCycle bool   // 是否按市场周期命名日志文件
}

// cycleLogFileName 按周期 slug 生成日志文件名：<dir>/<slug>.log
func cycleLogFileName(basePath, slug string) string {
	dir := filepath.Dir(basePath)
	ext := filepath.Ext(basePath)
	if ext == "" {
		ext = ".log"
	}
	name := slug + ext
	if dir == "." || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// newFormatter 统一的文本格式（yy-mm-dd HH:MM:ss，带颜色）
func newFormatter() *logrus.TextFormatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
		ForceColors:     true,
	}
}

// applyOutput 把 logger 和全局 logrus 一起切到新输出。
// 全局 logrus 也要设置：各包用 logrus.WithField 建的 entry 才能写进文件。
func applyOutput(logger *logrus.Logger, level logrus.Level, w io.Writer) {
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter())
	logger.SetOutput(w)

	logrus.SetOutput(w)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())
}

// buildWriter 组装输出（stdout + 可选滚动文件），返回 writer 和实际文件路径
func buildWriter(cfg Config, logFilePath string) (io.Writer, error) {
	writers := []io.Writer{os.Stdout}
	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
	return io.MultiWriter(writers...), nil
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	logFilePath := config.OutputFile
	if config.OutputFile != "" && config.LogByCycle && currentSlug != "" {
		logFilePath = cycleLogFileName(config.OutputFile, currentSlug)
	}

	w, err := buildWriter(config, logFilePath)
	if err != nil {
		return err
	}
	applyOutput(logger, level, w)

	savedConfig = config
	currentLogFile = logFilePath
	Logger = logger
	return nil
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:      "info",
		OutputFile: "logs/combined.log",
		MaxSize:    100, // 100MB
		MaxBackups: 3,
		MaxAge:     7, // 7天
		Compress:   true,
		LogByCycle: true,
	})
}

// SetBucketSlug 设置当前周期 slug（调度器在切换市场时调用）。
//
// 随后 CheckAndRotateLog 会把日志切到 <slug>.log。
func SetBucketSlug(slug string) {
	logMu.Lock()
	defer logMu.Unlock()
	currentSlug = slug
}

// CheckAndRotateLog 检查周期是否变化，需要时切换日志文件
func CheckAndRotateLog() error {
	return rotate(false)
}

// ForceRotateLog 强制切换日志文件（市场切换时调用）
func ForceRotateLog() error {
	return rotate(true)
}

func rotate(force bool) error {
	logMu.Lock()
	defer logMu.Unlock()

	if !savedConfig.LogByCycle || savedConfig.OutputFile == "" || currentSlug == "" {
		return nil
	}

	logFilePath := cycleLogFileName(savedConfig.OutputFile, currentSlug)
	if logFilePath == currentLogFile && !force {
		return nil
	}

	level, err := logrus.ParseLevel(savedConfig.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	w, err := buildWriter(savedConfig, logFilePath)
	if err != nil {
		return err
	}

	// 切换期间不要经过 Logger 自身
	if currentLogFile != "" {
		fmt.Printf("[日志切换] %s -> %s\n", currentLogFile, logFilePath)
	}

	logger := logrus.New()
	applyOutput(logger, level, w)

	currentLogFile = logFilePath
	Logger = logger
	Logger.Infof("📝 日志文件已切换到新周期: %s", logFilePath)
	return nil
}

// StartLogRotationChecker 启动日志轮转检查器（后台任务）
func StartLogRotationChecker() {
	logMu.Lock()
	cfg := savedConfig
	logMu.Unlock()
	if !cfg.LogByCycle || cfg.OutputFile == "" {
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			if err := CheckAndRotateLog(); err != nil {
				if Logger != nil {
					Logger.Errorf("检查日志轮转失败: %v", err)
				}
			}
		}
	}()
}

// Debug 记录 DEBUG 级别日志
func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Debug(args...)
	}
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Warn 记录 WARN 级别日志
func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Warn(args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Error 记录 ERROR 级别日志
func Error(args ...interface{}) {
	if Logger != nil {
		Logger.Error(args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.NewEntry(logrus.New())
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.NewEntry(logrus.New())
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
