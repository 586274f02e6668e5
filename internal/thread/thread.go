// Package thread 将频道的扁平消息列表还原为对话线程。
package thread

import (
	"regexp"
	"sort"
	"strings"

	"github.com/fachebot/slack-ai-digest/internal/model"
)

// DefaultPermalinkBase Slack 消息链接前缀
const DefaultPermalinkBase = "https://slack.com/archives"

var (
	// <https://example.com|标签> 或 <https://example.com>
	bracketedURLRegex = regexp.MustCompile(`<(https?://[^|>]+)(?:\|[^>]*)?>`)
	bareURLRegex      = regexp.MustCompile(`https?://[^\s<>]+`)
)

// Thread 一个对话线程：根消息及其回复，按时间戳升序
type Thread struct {
	Key       string // 根消息时间戳
	ChannelID string
	Messages  []*model.StoredMessage
	URL       string   // 线程永久链接
	Links     []string // 线程内出现的链接，去重并保持首次出现顺序
}

// Group 按线程键分组，线程按首次出现的顺序返回
func Group(msgs []*model.StoredMessage, permalinkBase string) []*Thread {
	if permalinkBase == "" {
		permalinkBase = DefaultPermalinkBase
	}

	var threads []*Thread
	index := make(map[string]*Thread)
	for _, msg := range msgs {
		key := msg.ThreadKey()
		t, ok := index[key]
		if !ok {
			t = &Thread{Key: key, ChannelID: msg.ChannelID}
			index[key] = t
			threads = append(threads, t)
		}
		t.Messages = append(t.Messages, msg)
	}

	for _, t := range threads {
		sort.SliceStable(t.Messages, func(i, j int) bool {
			return t.Messages[i].Timestamp < t.Messages[j].Timestamp
		})
		t.URL = Permalink(permalinkBase, t.ChannelID, t.Key)

		texts := make([]string, 0, len(t.Messages))
		for _, m := range t.Messages {
			texts = append(texts, m.Text)
		}
		t.Links = ExtractURLs(texts...)
	}
	return threads
}

// Permalink 生成线程链接，时间戳去掉小数点
func Permalink(base, channelID, ts string) string {
	return strings.TrimRight(base, "/") + "/" + channelID + "/p" + strings.ReplaceAll(ts, ".", "")
}

// ExtractURLs 提取文本中的链接：先提取尖括号链接（只取 URL 部分），
// 去掉这些片段后再提取裸链接，结果去重。
func ExtractURLs(texts ...string) []string {
	var urls []string
	seen := make(map[string]struct{})
	add := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, text := range texts {
		for _, match := range bracketedURLRegex.FindAllStringSubmatch(text, -1) {
			add(match[1])
		}
		rest := bracketedURLRegex.ReplaceAllString(text, " ")
		for _, u := range bareURLRegex.FindAllString(rest, -1) {
			add(u)
		}
	}
	return urls
}
