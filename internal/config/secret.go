package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	envPrefix  = "env:"
	filePrefix = "file:"
)

// ResolveSecret 解析配置值：env:NAME 读取环境变量，file:/path 读取文件内容，其余原样返回。
// 引用无法解析时返回错误，不允许静默降级为空值。
func ResolveSecret(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, envPrefix):
		name := strings.TrimPrefix(value, envPrefix)
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return "", fmt.Errorf("环境变量 %s 未设置", name)
		}
		return v, nil
	case strings.HasPrefix(value, filePrefix):
		path := strings.TrimPrefix(value, filePrefix)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("读取密钥文件失败: %w", err)
		}
		v := strings.TrimSpace(string(data))
		if v == "" {
			return "", fmt.Errorf("密钥文件 %s 为空", path)
		}
		return v, nil
	default:
		return value, nil
	}
}
