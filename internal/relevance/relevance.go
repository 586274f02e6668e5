// Package relevance 实现本地的话题相关性预过滤：宁可多收，不可漏收，精确判定交给 LLM。
package relevance

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// strictMaxLen 不超过该长度（按字符计）的关键词只按单词边界匹配
const strictMaxLen = 3

var (
	// DefaultStrict 短关键词，避免误中 tail、mail 之类的单词
	DefaultStrict = []string{"ai", "gpt", "llm"}

	// DefaultFlexible 长关键词，子串匹配
	DefaultFlexible = []string{
		"claude", "機械学習", "人工知能", "chatgpt", "openai", "gemini", "anthropic",
		"机器学习", "人工智能", "大模型",
	}

	// DefaultFallback LLM 不可用时的兜底词表，覆盖默认预过滤词表。
	// 使用时还会与实际生效的预过滤词表合并，见 svc.FallbackMatcher
	DefaultFallback = []string{
		"ai", "gpt", "chatgpt", "claude", "llm", "人工知能", "機械学習",
		"deep learning", "neural network", "openai", "anthropic", "gemini",
		"人工智能", "机器学习", "大模型",
	}

	// DefaultContext 实时评分时的上下文加分词，单独出现不足以判定相关
	DefaultContext = []string{
		"model", "prompt", "inference", "embedding", "fine-tun", "training",
		"agent", "copilot", "模型", "提示词", "推理", "微调",
	}
)

// KeywordSet 两组关键词：Strict 按单词边界匹配，Flexible 按子串匹配
type KeywordSet struct {
	Strict   []string
	Flexible []string
}

// Split 按长度拆分关键词：短词进入 Strict，其余进入 Flexible
func Split(words []string) KeywordSet {
	var set KeywordSet
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if utf8.RuneCountInString(w) <= strictMaxLen {
			set.Strict = append(set.Strict, w)
		} else {
			set.Flexible = append(set.Flexible, w)
		}
	}
	return set
}

// Union 合并两组关键词并去重（忽略大小写），不修改原有切片
func (s KeywordSet) Union(other KeywordSet) KeywordSet {
	return KeywordSet{
		Strict:   mergeWords(s.Strict, other.Strict),
		Flexible: mergeWords(s.Flexible, other.Flexible),
	}
}

func mergeWords(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, w := range list {
			key := strings.ToLower(strings.TrimSpace(w))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

// Matcher 关键词匹配器，构造后只读，可并发使用
type Matcher struct {
	strict   []*regexp.Regexp
	flexible []string
}

func NewMatcher(set KeywordSet) *Matcher {
	m := &Matcher{}
	for _, kw := range set.Strict {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		// RE2 不支持 lookbehind，用非字母数字或行首/行尾代替
		pattern := `(?i)(^|[^a-z0-9])` + regexp.QuoteMeta(kw) + `([^a-z0-9]|$)`
		m.strict = append(m.strict, regexp.MustCompile(pattern))
	}
	for _, kw := range set.Flexible {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		m.flexible = append(m.flexible, kw)
	}
	return m
}

// Check 判断文本是否可能与话题相关；仅在确定无关时返回 false
func (m *Matcher) Check(text string) bool {
	if text == "" {
		return false
	}
	strict, flexible := m.Hits(text)
	return strict > 0 || flexible > 0
}

// Hits 返回命中的短关键词与长关键词个数（每个关键词最多计一次）
func (m *Matcher) Hits(text string) (strict, flexible int) {
	if text == "" {
		return 0, 0
	}
	lower := strings.ToLower(text)
	for _, re := range m.strict {
		if re.MatchString(lower) {
			strict++
		}
	}
	for _, kw := range m.flexible {
		if strings.Contains(lower, kw) {
			flexible++
		}
	}
	return strict, flexible
}
