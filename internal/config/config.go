package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Sock5Proxy struct {
	Host   string `yaml:"Host"`
	Port   int32  `yaml:"Port"`
	Enable bool   `yaml:"Enable"`
}

type Slack struct {
	BotToken        string   `yaml:"BotToken"`        // 支持 env:NAME / file:/path 引用
	SigningSecret   string   `yaml:"SigningSecret"`   // 支持 env:NAME / file:/path 引用
	TargetChannelID string   `yaml:"TargetChannelID"` // 摘要发送目标频道
	WatchedChannels []string `yaml:"WatchedChannels"` // 实时事件监听的频道白名单
	PermalinkBase   string   `yaml:"PermalinkBase"`   // 如 https://slack.com/archives
}

type LLM struct {
	BaseURL   string `yaml:"BaseURL"` // 兼容 OpenAI API 的端点
	APIKey    string `yaml:"APIKey"`
	Model     string `yaml:"Model"`     // 如 gpt-4o, deepseek-chat, qwen-plus
	MaxTokens int    `yaml:"MaxTokens"` // 单次回复最大 token 数
	Timeout   int    `yaml:"Timeout"`   // 单次调用超时（秒）
}

type Storage struct {
	DSN            string `yaml:"DSN"`
	MessagesTable  string `yaml:"MessagesTable"`
	ProcessedTable string `yaml:"ProcessedTable"`
}

type Keywords struct {
	Strict   []string `yaml:"Strict"`   // 短关键词，按单词边界匹配
	Flexible []string `yaml:"Flexible"` // 长关键词，子串匹配
	Fallback []string `yaml:"Fallback"` // LLM 调用失败时的兜底关键词，按长度自动拆分
	Context  []string `yaml:"Context"`  // 实时评分的上下文加分词
}

type Poll struct {
	Schedule      string `yaml:"Schedule"`      // rate(5 minutes) 或 cron 表达式
	WindowSeconds int    `yaml:"WindowSeconds"` // 回溯窗口，默认 300
	Concurrency   int    `yaml:"Concurrency"`
	Timeout       int    `yaml:"Timeout"` // 单次轮询超时（秒）
}

type Summary struct {
	Schedule    string `yaml:"Schedule"`
	Concurrency int    `yaml:"Concurrency"` // 单频道内并发判定的线程数
	Timeout     int    `yaml:"Timeout"`     // 单次总结超时（秒）
}

type Live struct {
	Threshold float64 `yaml:"Threshold"` // 实时事件评分阈值，默认 0.3
}

type Server struct {
	Addr         string `yaml:"Addr"`
	TriggerToken string `yaml:"TriggerToken"` // 为空时触发接口不鉴权
}

type Log struct {
	Level string `yaml:"Level"`
	File  string `yaml:"File"`
}

type Config struct {
	Sock5Proxy Sock5Proxy `yaml:"Sock5Proxy"`
	Slack      Slack      `yaml:"Slack"`
	LLM        LLM        `yaml:"LLM"`
	Storage    Storage    `yaml:"Storage"`
	Keywords   Keywords   `yaml:"Keywords"`
	Poll       Poll       `yaml:"Poll"`
	Summary    Summary    `yaml:"Summary"`
	Live       Live       `yaml:"Live"`
	Server     Server     `yaml:"Server"`
	Log        Log        `yaml:"Log"`
}

func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// Load 解析 YAML、解析密钥引用、填充默认值并验证
func Load(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	if err := c.resolveSecrets(); err != nil {
		return nil, err
	}

	c.applyDefaults()

	// 验证配置
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *Config) resolveSecrets() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"Slack.BotToken", &c.Slack.BotToken},
		{"Slack.SigningSecret", &c.Slack.SigningSecret},
		{"Slack.TargetChannelID", &c.Slack.TargetChannelID},
		{"LLM.APIKey", &c.LLM.APIKey},
		{"Server.TriggerToken", &c.Server.TriggerToken},
	}
	for _, f := range fields {
		v, err := ResolveSecret(*f.value)
		if err != nil {
			return fmt.Errorf("%s 解析失败: %w", f.name, err)
		}
		*f.value = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Slack.PermalinkBase == "" {
		c.Slack.PermalinkBase = "https://slack.com/archives"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 500
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60
	}
	if c.Poll.Schedule == "" {
		c.Poll.Schedule = "rate(5 minutes)"
	}
	if c.Poll.WindowSeconds == 0 {
		c.Poll.WindowSeconds = 300
	}
	if c.Poll.Concurrency == 0 {
		c.Poll.Concurrency = 1
	}
	if c.Poll.Timeout == 0 {
		c.Poll.Timeout = 240
	}
	if c.Summary.Schedule == "" {
		c.Summary.Schedule = "rate(1 hour)"
	}
	if c.Summary.Concurrency == 0 {
		c.Summary.Concurrency = 1
	}
	if c.Summary.Timeout == 0 {
		c.Summary.Timeout = 900
	}
	if c.Live.Threshold == 0 {
		c.Live.Threshold = 0.3
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	// 验证 Slack
	if c.Slack.BotToken == "" {
		return fmt.Errorf("Slack.BotToken 不能为空")
	}
	if c.Slack.SigningSecret == "" {
		return fmt.Errorf("Slack.SigningSecret 不能为空")
	}
	if c.Slack.TargetChannelID == "" {
		return fmt.Errorf("Slack.TargetChannelID 不能为空")
	}
	if len(c.Slack.WatchedChannels) == 0 {
		return fmt.Errorf("Slack.WatchedChannels 不能为空")
	}

	// 验证 LLM
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM.APIKey 不能为空")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM.BaseURL 不能为空")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM.Model 不能为空")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM.MaxTokens 必须大于 0")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM.Timeout 必须大于 0")
	}

	// 验证 Storage
	if c.Storage.DSN == "" {
		return fmt.Errorf("Storage.DSN 不能为空")
	}
	if c.Storage.MessagesTable == "" {
		return fmt.Errorf("Storage.MessagesTable 不能为空")
	}
	if c.Storage.ProcessedTable == "" {
		return fmt.Errorf("Storage.ProcessedTable 不能为空")
	}
	if c.Storage.MessagesTable == c.Storage.ProcessedTable {
		return fmt.Errorf("Storage.MessagesTable 与 Storage.ProcessedTable 不能相同")
	}

	// 验证调度
	if c.Poll.WindowSeconds < 0 {
		return fmt.Errorf("Poll.WindowSeconds 必须 >= 0")
	}
	if c.Poll.Concurrency < 0 || c.Summary.Concurrency < 0 {
		return fmt.Errorf("Concurrency 必须 >= 0")
	}
	if c.Live.Threshold < 0 || c.Live.Threshold > 1 {
		return fmt.Errorf("Live.Threshold 必须在 0 到 1 之间")
	}

	return nil
}
