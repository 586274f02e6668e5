package logger

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger struct {
	*logrus.Logger
	fileLogger *logrus.Logger
}

// Options 日志配置
type Options struct {
	Level      string // debug / info / warn / error
	File       string // 为空时不写文件
	MaxSize    int    // 单个文件大小（MB）
	MaxBackups int
	MaxAge     int // 天
}

var defaultLogger *Logger

func init() {
	// 控制台日志配置
	consoleLogger := logrus.New()
	consoleLogger.SetFormatter(&logrus.TextFormatter{
		ForceColors:   true,
		FullTimestamp: true,
	})
	consoleLogger.SetOutput(os.Stdout)
	consoleLogger.SetLevel(logrus.DebugLevel)

	defaultLogger = &Logger{Logger: consoleLogger}
}

// Setup 根据配置设置日志级别，并开启文件日志
func Setup(opts Options) error {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return err
	}
	defaultLogger.Logger.SetLevel(level)

	if opts.File == "" {
		defaultLogger.fileLogger = nil
		return nil
	}

	// 创建日志目录
	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return err
	}

	fileLogger := logrus.New()
	fileLogger.SetFormatter(&logrus.JSONFormatter{
		PrettyPrint:     false,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	fileLogger.SetLevel(level)

	// 使用lumberjack进行日志轮转
	fileLogger.SetOutput(&lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    orDefault(opts.MaxSize, 10),
		MaxBackups: orDefault(opts.MaxBackups, 10),
		MaxAge:     orDefault(opts.MaxAge, 30),
		Compress:   true,
	})

	defaultLogger.fileLogger = fileLogger
	return nil
}

// Std 返回控制台 logrus 实例，供第三方库（如 cron）输出日志
func Std() *logrus.Logger {
	return defaultLogger.Logger
}

func parseLevel(level string) (logrus.Level, error) {
	if strings.TrimSpace(level) == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(level)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func Infof(format string, args ...any) {
	defaultLogger.Logger.Infof(format, args...)
	if defaultLogger.fileLogger != nil {
		defaultLogger.fileLogger.Infof(format, args...)
	}
}

func Warnf(format string, args ...any) {
	defaultLogger.Logger.Warnf(format, args...)
	if defaultLogger.fileLogger != nil {
		defaultLogger.fileLogger.Warnf(format, args...)
	}
}

func Errorf(format string, args ...any) {
	defaultLogger.Logger.Errorf(format, args...)
	if defaultLogger.fileLogger != nil {
		defaultLogger.fileLogger.Errorf(format, args...)
	}
}

func Fatalf(format string, args ...any) {
	if defaultLogger.fileLogger != nil {
		defaultLogger.fileLogger.Errorf(format, args...)
	}
	defaultLogger.Logger.Fatalf(format, args...)
}

func Debugf(format string, args ...any) {
	defaultLogger.Logger.Debugf(format, args...)
	if defaultLogger.fileLogger != nil {
		defaultLogger.fileLogger.Debugf(format, args...)
	}
}
