package summarizer

// ThreadSummary 单个 AI 相关线程的摘要，仅在一次总结过程中存在
type ThreadSummary struct {
	ThreadURL    string   `json:"thread_url"`
	MessageCount int      `json:"message_count"`
	Summary      string   `json:"summary"`
	URLs         []string `json:"urls"`
	Fallback     bool     `json:"fallback"`
}

// ChannelReport 单个频道的处理情况
type ChannelReport struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MessageCount int    `json:"message_count"`
	AIThreads    int    `json:"ai_threads"`
}

// ChannelError 单个频道的处理错误
type ChannelError struct {
	Channel string `json:"channel,omitempty"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
}

// RunResult 一次总结的结果，仅用于日志和触发接口返回
type RunResult struct {
	RunID             string          `json:"run_id"`
	SummariesSent     int             `json:"summaries_sent"`
	TotalMessages     int             `json:"total_messages"`
	Errors            []ChannelError  `json:"errors"`
	ChannelsProcessed []ChannelReport `json:"channels_processed"`
}
