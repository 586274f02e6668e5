package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fachebot/slack-ai-digest/internal/chat"
	"github.com/fachebot/slack-ai-digest/internal/model"
	"github.com/fachebot/slack-ai-digest/internal/relevance"
)

// memLedger 内存版 ledger
type memLedger struct {
	mu        sync.Mutex
	stored    map[string]*model.StoredMessage
	processed map[string]bool
	ingestErr error
}

func newMemLedger() *memLedger {
	return &memLedger{stored: map[string]*model.StoredMessage{}, processed: map[string]bool{}}
}

func (m *memLedger) IsProcessed(ctx context.Context, messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[messageID]
}

func (m *memLedger) Ingest(ctx context.Context, msg *model.StoredMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ingestErr != nil {
		return m.ingestErr
	}
	cp := *msg
	m.stored[msg.MessageID] = &cp
	m.processed[msg.MessageID] = true
	return nil
}

func (m *memLedger) ids() []string {
	var ids []string
	for id := range m.stored {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// fakeUsers 用户名表，未知用户返回错误
type fakeUsers map[string]string

func (f fakeUsers) UserName(ctx context.Context, userID string) (string, error) {
	name, ok := f[userID]
	if !ok {
		return "", errors.New("user_not_found")
	}
	return name, nil
}

func defaultScorer() *relevance.Scorer {
	matcher := relevance.NewMatcher(relevance.KeywordSet{Strict: relevance.DefaultStrict, Flexible: relevance.DefaultFlexible})
	return relevance.NewScorer(matcher, relevance.DefaultContext, relevance.DefaultThreshold)
}

func defaultMatcher() *relevance.Matcher {
	return relevance.NewMatcher(relevance.KeywordSet{Strict: relevance.DefaultStrict, Flexible: relevance.DefaultFlexible})
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want Disposition
	}{
		{"编辑消息", Event{Type: "message", SubType: "message_changed", Channel: "C1", TS: "1.000001", Text: "ChatGPT"}, Ignored},
		{"未监听频道", Event{Type: "message", Channel: "C9", TS: "1.000001", Text: "ChatGPT"}, NotWatched},
		{"无关消息", Event{Type: "message", Channel: "C1", TS: "1.000001", Text: "tail -f the logs"}, Irrelevant},
		{"相关消息", Event{Type: "message", Channel: "C1", User: "U1", TS: "1.000001", Text: "ChatGPT 的新模型"}, Stored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newMemLedger()
			ingestor := NewLiveIngestor(fakeUsers{"U1": "Alice"}, l, defaultScorer(), []string{"C1"})
			got, err := ingestor.HandleMessage(context.Background(), tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			if tt.want == Stored {
				assert.Len(t, l.stored, 1)
			} else {
				assert.Empty(t, l.stored)
			}
		})
	}
}

func TestHandleMessage_StoredFields(t *testing.T) {
	l := newMemLedger()
	ingestor := NewLiveIngestor(fakeUsers{}, l, defaultScorer(), []string{"C1"})

	ev := Event{Type: "message", Channel: "C1", User: "U404", TS: "1700000001.000200", ThreadTS: "1700000000.000100", Text: "用 Claude 做 prompt 调优"}
	got, err := ingestor.HandleMessage(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, Stored, got)

	msg := l.stored["C1-1700000001.000200"]
	require.NotNil(t, msg)
	assert.Equal(t, UnknownUser, msg.UserName)
	assert.True(t, msg.IsThreadReply)
	assert.Equal(t, "1700000000.000100", msg.ThreadTS)
	assert.GreaterOrEqual(t, msg.RelevanceScore, relevance.DefaultThreshold)

	// 同一消息再次推送
	got, err = ingestor.HandleMessage(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, got)
}

func TestHandleMessage_StoreFailure(t *testing.T) {
	l := newMemLedger()
	l.ingestErr = errors.New("disk I/O error")
	ingestor := NewLiveIngestor(fakeUsers{}, l, defaultScorer(), []string{"C1"})

	got, err := ingestor.HandleMessage(context.Background(), Event{Channel: "C1", TS: "1.000001", Text: "LLM"})
	assert.Error(t, err)
	assert.Equal(t, Failed, got)
}

// fakeChat 内存版 Slack
type fakeChat struct {
	mu         sync.Mutex
	channels   []chat.Channel
	listErr    error
	infoErr    map[string]error
	private    map[string]bool
	history    map[string][]chat.Message
	historyErr map[string]error
	replies    map[string][]chat.Message
	repliesErr error
	users      fakeUsers
	oldest     string
	replyCalls int
}

func (f *fakeChat) BotUserID(ctx context.Context) (string, error) { return "UBOT", nil }

func (f *fakeChat) MemberChannels(ctx context.Context, exclude string) ([]chat.Channel, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []chat.Channel
	for _, ch := range f.channels {
		if ch.ID != exclude {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeChat) ChannelInfo(ctx context.Context, channelID string) (*chat.Channel, error) {
	if err := f.infoErr[channelID]; err != nil {
		return nil, err
	}
	return &chat.Channel{ID: channelID, IsPrivate: f.private[channelID], IsMember: !f.private[channelID]}, nil
}

func (f *fakeChat) History(ctx context.Context, channelID, oldest string) ([]chat.Message, error) {
	f.mu.Lock()
	f.oldest = oldest
	f.mu.Unlock()
	if err := f.historyErr[channelID]; err != nil {
		return nil, err
	}
	return f.history[channelID], nil
}

func (f *fakeChat) Replies(ctx context.Context, channelID, threadTS string) ([]chat.Message, error) {
	f.mu.Lock()
	f.replyCalls++
	f.mu.Unlock()
	if f.repliesErr != nil {
		return nil, f.repliesErr
	}
	return f.replies[threadTS], nil
}

func (f *fakeChat) UserName(ctx context.Context, userID string) (string, error) {
	return f.users.UserName(ctx, userID)
}

var pollNow = time.Unix(1700000300, 0)

func newTestPoller(api chatAPI, l messageLedger, concurrency int) *Poller {
	p := NewPoller(api, l, defaultMatcher(), PollOptions{TargetChannelID: "CTARGET", Concurrency: concurrency})
	p.now = func() time.Time { return pollNow }
	return p
}

func TestPoll_ThreadWithRelevantReply(t *testing.T) {
	api := &fakeChat{
		channels: []chat.Channel{{ID: "C1", Name: "general"}, {ID: "CTARGET", Name: "digest"}},
		history: map[string][]chat.Message{
			"C1": {
				{Type: "message", TS: "1700000100.000001", ThreadTS: "1700000100.000001", User: "U1", Text: "周末读了篇论文", ReplyCount: 2},
				{Type: "message", TS: "1700000200.000001", User: "U2", Text: "午饭吃什么"},
				{Type: "message", SubType: "channel_join", TS: "1700000210.000001", Text: "joined"},
			},
		},
		replies: map[string][]chat.Message{
			"1700000100.000001": {
				{Type: "message", TS: "1700000101.000001", ThreadTS: "1700000100.000001", User: "U2", Text: "是讲 LLM 推理的吗"},
				{Type: "message", TS: "1700000102.000001", ThreadTS: "1700000100.000001", User: "U3", Text: "对"},
			},
		},
		users: fakeUsers{"U1": "Alice", "U2": "Bob"},
	}
	l := newMemLedger()

	result, err := newTestPoller(api, l, 1).Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Found)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []MonitoredChannel{{ID: "C1", Name: "general"}}, result.ChannelsMonitored)
	assert.Equal(t, "1700000000.000000", api.oldest)

	assert.Equal(t, []string{"C1-1700000100.000001", "C1-1700000101.000001", "C1-1700000102.000001"}, l.ids())

	root := l.stored["C1-1700000100.000001"]
	assert.False(t, root.IsThreadReply)
	assert.Equal(t, "1700000100.000001", root.ThreadTS)
	assert.Equal(t, 0.5, root.RelevanceScore)
	assert.Equal(t, 2, root.ReplyCount)
	assert.Equal(t, "Alice", root.UserName)

	reply := l.stored["C1-1700000102.000001"]
	assert.True(t, reply.IsThreadReply)
	assert.Equal(t, "1700000100.000001", reply.ThreadTS)
	assert.Equal(t, UnknownUser, reply.UserName)
}

func TestPoll_SkipsProcessed(t *testing.T) {
	api := &fakeChat{
		channels: []chat.Channel{{ID: "C1", Name: "general"}},
		history: map[string][]chat.Message{
			"C1": {
				{Type: "message", TS: "1700000100.000001", ThreadTS: "1700000100.000001", Text: "GPT 新版本", ReplyCount: 2},
			},
		},
		replies: map[string][]chat.Message{
			"1700000100.000001": {
				{Type: "message", TS: "1700000101.000001", Text: "a"},
				{Type: "message", TS: "1700000102.000001", Text: "b"},
			},
		},
	}
	l := newMemLedger()
	l.processed["C1-1700000101.000001"] = true

	result, err := newTestPoller(api, l, 1).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Found)
	assert.Equal(t, []string{"C1-1700000100.000001", "C1-1700000102.000001"}, l.ids())

	// 第二轮不会重复入库
	result, err = newTestPoller(api, l, 1).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Found)
	assert.Equal(t, 1, api.replyCalls)
}

func TestPoll_RepliesFailureIsBestEffort(t *testing.T) {
	api := &fakeChat{
		channels: []chat.Channel{{ID: "C1", Name: "general"}},
		history: map[string][]chat.Message{
			"C1": {
				{Type: "message", TS: "1700000100.000001", ThreadTS: "1700000100.000001", Text: "OpenAI 发布会", ReplyCount: 3},
				{Type: "message", TS: "1700000150.000001", ThreadTS: "1700000150.000001", Text: "周会改时间", ReplyCount: 1},
			},
		},
		repliesErr: errors.New("ratelimited"),
	}
	l := newMemLedger()

	result, err := newTestPoller(api, l, 1).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.Found)
	assert.Equal(t, []string{"C1-1700000100.000001"}, l.ids())
}

func TestPoll_PerChannelFailures(t *testing.T) {
	relevant := []chat.Message{{Type: "message", TS: "1700000100.000001", Text: "Gemini 评测"}}
	api := &fakeChat{
		channels: []chat.Channel{
			{ID: "C1", Name: "no-info"},
			{ID: "C2", Name: "private"},
			{ID: "C3", Name: "kicked"},
			{ID: "C4", Name: "broken"},
			{ID: "C5", Name: "ok"},
		},
		infoErr: map[string]error{"C1": errors.New("channel_not_found")},
		private: map[string]bool{"C2": true},
		history: map[string][]chat.Message{"C2": relevant, "C5": relevant},
		historyErr: map[string]error{
			"C3": chat.ErrNotInChannel,
			"C4": errors.New("internal_error"),
		},
	}
	l := newMemLedger()

	result, err := newTestPoller(api, l, 3).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "C4", result.Errors[0].ID)
	assert.Equal(t, "broken", result.Errors[0].Channel)
	assert.Contains(t, result.Errors[0].Error, "internal_error")
	assert.Equal(t, []string{"C5-1700000100.000001"}, l.ids())
	assert.Len(t, result.ChannelsMonitored, 5)
}

func TestPoll_ListChannelsFailure(t *testing.T) {
	api := &fakeChat{listErr: errors.New("invalid_auth")}
	result, err := newTestPoller(api, newMemLedger(), 1).Run(context.Background())
	assert.Error(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Errors, 1)
}

func TestPoll_StoreFailureIsChannelError(t *testing.T) {
	api := &fakeChat{
		channels: []chat.Channel{{ID: "C1", Name: "general"}},
		history:  map[string][]chat.Message{"C1": {{Type: "message", TS: "1700000100.000001", Text: "LLM"}}},
	}
	l := newMemLedger()
	l.ingestErr = errors.New("database is locked")

	result, err := newTestPoller(api, l, 1).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error, "database is locked")
}

func TestFormatTS(t *testing.T) {
	assert.Equal(t, "1700000000.000000", formatTS(time.Unix(1700000000, 0)))
	assert.Equal(t, "1700000000.500000", formatTS(time.Unix(1700000000, 500_000_000)))
}
