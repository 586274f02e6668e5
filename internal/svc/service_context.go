package svc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/proxy"

	"github.com/fachebot/slack-ai-digest/internal/chat"
	"github.com/fachebot/slack-ai-digest/internal/config"
	"github.com/fachebot/slack-ai-digest/internal/ingest"
	"github.com/fachebot/slack-ai-digest/internal/ledger"
	"github.com/fachebot/slack-ai-digest/internal/llm"
	"github.com/fachebot/slack-ai-digest/internal/logger"
	"github.com/fachebot/slack-ai-digest/internal/model"
	"github.com/fachebot/slack-ai-digest/internal/notify"
	"github.com/fachebot/slack-ai-digest/internal/relevance"
	"github.com/fachebot/slack-ai-digest/internal/summarizer"
	"github.com/fachebot/slack-ai-digest/migrations"
)

// slackHTTPTimeout Slack Web API 单次请求超时
const slackHTTPTimeout = 30 * time.Second

type ServiceContext struct {
	Config         *config.Config
	DB             *model.DB
	TransportProxy *http.Transport
	SlackClient    *chat.Client
	Ledger         *ledger.Ledger
	PreFilter      *relevance.Matcher
	LLMClient      *llm.Client
	Notifier       *notify.Notifier
	LiveIngestor   *ingest.LiveIngestor
	Poller         *ingest.Poller
	Summarizer     *summarizer.Summarizer
}

func NewServiceContext(c *config.Config) *ServiceContext {
	// 打开数据库并执行迁移
	db, err := model.Open(context.Background(), c.Storage.DSN, Tables(c))
	if err != nil {
		logger.Fatalf("打开数据库失败, %v", err)
	}

	// 创建SOCKS5代理
	var transportProxy *http.Transport
	if c.Sock5Proxy.Enable {
		socks5Proxy := fmt.Sprintf("%s:%d", c.Sock5Proxy.Host, c.Sock5Proxy.Port)
		dialer, err := proxy.SOCKS5("tcp", socks5Proxy, nil, proxy.Direct)
		if err != nil {
			logger.Fatalf("创建SOCKS5代理失败, %v", err)
		}

		transportProxy = &http.Transport{
			Dial:            dialer.Dial,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	// LLM 调用的超时由 context 控制，这里不设置 Client.Timeout
	slackClient := chat.NewClient(c.Slack.BotToken, newHTTPClient(transportProxy, slackHTTPTimeout))
	llmClient := llm.NewClient(&c.LLM, FallbackMatcher(c.Keywords), newHTTPClient(transportProxy, 0))

	store := ledger.NewLedger(db.MessageModel(), db.MarkerModel())
	preFilter := PreFilter(c.Keywords)
	scorer := relevance.NewScorer(preFilter, orDefault(c.Keywords.Context, relevance.DefaultContext), c.Live.Threshold)
	notifier := notify.NewNotifier(slackClient, c.Slack.TargetChannelID)

	svcCtx := &ServiceContext{
		Config:         c,
		DB:             db,
		TransportProxy: transportProxy,
		SlackClient:    slackClient,
		Ledger:         store,
		PreFilter:      preFilter,
		LLMClient:      llmClient,
		Notifier:       notifier,
		LiveIngestor:   ingest.NewLiveIngestor(slackClient, store, scorer, c.Slack.WatchedChannels),
		Poller: ingest.NewPoller(slackClient, store, preFilter, ingest.PollOptions{
			TargetChannelID: c.Slack.TargetChannelID,
			Window:          time.Duration(c.Poll.WindowSeconds) * time.Second,
			Concurrency:     c.Poll.Concurrency,
			Timeout:         time.Duration(c.Poll.Timeout) * time.Second,
		}),
		Summarizer: summarizer.NewSummarizer(slackClient, store, llmClient, notifier, summarizer.Options{
			TargetChannelID: c.Slack.TargetChannelID,
			PermalinkBase:   c.Slack.PermalinkBase,
			Concurrency:     c.Summary.Concurrency,
			Timeout:         time.Duration(c.Summary.Timeout) * time.Second,
		}),
	}
	return svcCtx
}

// Tables 配置中的表名
func Tables(c *config.Config) migrations.Tables {
	return migrations.Tables{
		Messages:  c.Storage.MessagesTable,
		Processed: c.Storage.ProcessedTable,
	}
}

// PreFilter 根据配置构建预过滤器，未配置时使用内置词表
func PreFilter(k config.Keywords) *relevance.Matcher {
	return relevance.NewMatcher(preFilterKeywords(k))
}

// FallbackMatcher LLM 不可用时使用的兜底匹配器。词表为预过滤词表与兜底词表的并集，
// 保证通过预过滤入库的线程在兜底时同样能命中
func FallbackMatcher(k config.Keywords) *relevance.Matcher {
	fallback := relevance.Split(orDefault(k.Fallback, relevance.DefaultFallback))
	return relevance.NewMatcher(preFilterKeywords(k).Union(fallback))
}

func preFilterKeywords(k config.Keywords) relevance.KeywordSet {
	if len(k.Strict) == 0 && len(k.Flexible) == 0 {
		return relevance.KeywordSet{
			Strict:   relevance.DefaultStrict,
			Flexible: relevance.DefaultFlexible,
		}
	}
	return relevance.KeywordSet{Strict: k.Strict, Flexible: k.Flexible}
}

func newHTTPClient(transport *http.Transport, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	if transport != nil {
		client.Transport = transport
	}
	return client
}

func orDefault(words, def []string) []string {
	if len(words) == 0 {
		return def
	}
	return words
}

func (svcCtx *ServiceContext) Close() {
	if err := svcCtx.DB.Close(); err != nil {
		logger.Errorf("关闭数据库失败, %v", err)
	}
}
