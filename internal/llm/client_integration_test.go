package llm

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fachebot/slack-ai-digest/internal/config"
	"github.com/stretchr/testify/assert"
)

// integrationTestConfig 从环境变量构建测试配置，若 LLM_API_KEY 未设置则跳过
func integrationTestConfig(t *testing.T) *config.LLM {
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" || apiKey == "your-api-key-here" {
		t.Skip("跳过集成测试：请设置 LLM_API_KEY 环境变量")
	}
	baseURL := os.Getenv("LLM_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &config.LLM{
		APIKey:    apiKey,
		BaseURL:   baseURL,
		Model:     model,
		MaxTokens: 500,
		Timeout:   60,
	}
}

func TestJudge_Integration(t *testing.T) {
	cfg := integrationTestConfig(t)
	client := NewClient(cfg, fallbackMatcher(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	th := testThread(
		"我们把客服机器人的底座从 GPT-4 换成了 Claude，延迟降了不少",
		"提示词需要重新调吗？",
		"调了一些，主要是 system prompt 里的格式约束，详见 https://docs.anthropic.com",
	)
	got := client.Judge(ctx, th)
	assert.True(t, got.Relevant)
	assert.NotEmpty(t, got.Summary)
	t.Logf("摘要:\n%s", got.Summary)

	off := testThread("中午去哪吃饭？", "楼下新开了一家面馆")
	got = client.Judge(ctx, off)
	assert.False(t, got.Relevant)
}
