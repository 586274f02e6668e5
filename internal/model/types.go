package model

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrNotFound = errors.New("记录不存在")

const (
	partitionPrefix = "CHANNEL#"
	sortPrefix      = "MSG#"
)

// StoredMessage 待总结的候选消息
type StoredMessage struct {
	MessageID      string
	ChannelID      string
	TS             string  // Slack 原始时间戳，如 1712345678.123456
	Timestamp      float64 // TS 的数值形式，用于排序
	Text           string
	UserID         string
	UserName       string
	RelevanceScore float64 // 暂定分数，最终以 LLM 判定为准
	IsThreadReply  bool
	ThreadTS       string // 所属线程根消息的时间戳，没有线程时为空
	ReplyCount     int
	DetectedAt     time.Time
	ExpiresAt      time.Time
}

// Marker 处理记录：已入库标记或已总结标记
type Marker struct {
	Key         string
	ChannelID   string
	ProcessedAt time.Time
	ExpiresAt   time.Time
}

// MessageID 构造消息的全局唯一标识
func MessageID(channelID, ts string) string {
	return channelID + "-" + ts
}

// SummarizedKey 已总结标记的 key，与已入库标记区分命名空间
func SummarizedKey(messageID string) string {
	return "summarized_" + messageID
}

// PartitionKey 频道分区键
func PartitionKey(channelID string) string {
	return partitionPrefix + channelID
}

// SortKey 消息排序键
func SortKey(ts string) string {
	return sortPrefix + ts
}

// ParseTS 将 Slack 时间戳转换为浮点数
func ParseTS(ts string) (float64, error) {
	v, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0, fmt.Errorf("无效的时间戳 %q: %w", ts, err)
	}
	return v, nil
}

// ThreadKey 线程分组键：有线程时为根消息时间戳，否则为消息自身时间戳
func (m *StoredMessage) ThreadKey() string {
	if m.ThreadTS != "" {
		return m.ThreadTS
	}
	return m.TS
}
