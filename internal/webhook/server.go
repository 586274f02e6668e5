// Package webhook 提供 HTTP 入口：Slack 事件回调、手动触发轮询/总结以及健康检查。
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/fachebot/slack-ai-digest/internal/ingest"
	"github.com/fachebot/slack-ai-digest/internal/logger"
	"github.com/fachebot/slack-ai-digest/internal/summarizer"
)

// maxBodyBytes 事件回调请求体上限
const maxBodyBytes = 1 << 20

// ErrInvalidSignature 请求签名校验失败
var ErrInvalidSignature = errors.New("invalid signature")

// liveIngestor 实时事件入库（便于测试注入 mock）
type liveIngestor interface {
	HandleMessage(ctx context.Context, ev ingest.Event) (ingest.Disposition, error)
}

// pollRunner 执行一次轮询
type pollRunner interface {
	Run(ctx context.Context) (*ingest.PollResult, error)
}

// summaryRunner 执行一次总结
type summaryRunner interface {
	Run(ctx context.Context) (*summarizer.RunResult, error)
}

type Options struct {
	Addr          string
	SigningSecret string
	TriggerToken  string // 为空时触发接口不鉴权
}

type Server struct {
	live       liveIngestor
	poller     pollRunner
	summarizer summaryRunner
	opts       Options
	httpServer *http.Server
}

func NewServer(live liveIngestor, poller pollRunner, summarizer summaryRunner, opts Options) *Server {
	s := &Server{
		live:       live,
		poller:     poller,
		summarizer: summarizer,
		opts:       opts,
	}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 返回完整的路由，外层带 panic 恢复
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /slack/events", s.handleEvents)
	mux.HandleFunc("POST /trigger/poll", s.requireToken(s.handleTriggerPoll))
	mux.HandleFunc("POST /trigger/summary", s.requireToken(s.handleTriggerSummary))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	return recoverer(mux)
}

// Start 监听端口并在后台提供服务
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", s.opts.Addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("[Webhook] 服务异常退出: %v", err)
		}
	}()
	logger.Infof("[Webhook] HTTP 服务已启动: %s", ln.Addr())
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.Warnf("[Webhook] 读取请求体失败: %v", err)
		writeError(w, http.StatusBadRequest, "Bad request")
		return
	}

	if err := verifySignature(r.Header, body, s.opts.SigningSecret); err != nil {
		logger.Warnf("[Webhook] 签名校验失败: %v", err)
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		// 不认识的回调事件类型直接确认，避免 Slack 反复重试
		if outerEventType(body) == slackevents.CallbackEvent {
			logger.Debugf("[Webhook] 忽略无法解析的回调事件: %v", err)
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		logger.Errorf("[Webhook] 解析事件失败: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge.Challenge})
		return

	case slackevents.CallbackEvent:
		if msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			disposition, err := s.live.HandleMessage(r.Context(), ingest.Event{
				Type:     msg.Type,
				SubType:  msg.SubType,
				Channel:  msg.Channel,
				User:     msg.User,
				Text:     msg.Text,
				TS:       msg.TimeStamp,
				ThreadTS: msg.ThreadTimeStamp,
			})
			if err != nil {
				logger.Errorf("[Webhook] 处理消息事件失败: %v", err)
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			logger.Debugf("[Webhook] 消息 %s/%s: %s", msg.Channel, msg.TimeStamp, disposition)
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// outerEventType 读取事件外层的 type 字段
func outerEventType(body []byte) string {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Type
}

func (s *Server) handleTriggerPoll(w http.ResponseWriter, r *http.Request) {
	result, err := s.poller.Run(r.Context())
	if err != nil {
		logger.Errorf("[Webhook] 手动轮询失败: %v", err)
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTriggerSummary(w http.ResponseWriter, r *http.Request) {
	result, err := s.summarizer.Run(r.Context())
	if err != nil {
		logger.Errorf("[Webhook] 手动总结失败: %v", err)
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// requireToken 配置了触发令牌时校验 Bearer 头
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.TriggerToken != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.TriggerToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
		}
		next(w, r)
	}
}

// verifySignature 校验 v0 签名：HMAC-SHA256(v0:{timestamp}:{body})，时间戳偏差超过 5 分钟即拒绝
func verifySignature(header http.Header, body []byte, secret string) error {
	if secret == "" {
		return fmt.Errorf("%w: signing secret 未配置", ErrInvalidSignature)
	}

	sv, err := slack.NewSecretsVerifier(header, secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Errorf("[Webhook] 处理 %s %s 时发生 panic: %v", r.Method, r.URL.Path, rec)
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("[Webhook] 写入响应失败: %v", err)
	}
}
