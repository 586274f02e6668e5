package relevance

import "strings"

const (
	strictWeight     = 0.3
	flexibleWeight   = 0.4
	contextWeight    = 0.1
	maxContextWeight = 0.2

	// DefaultThreshold 实时事件低于该分数直接丢弃
	DefaultThreshold = 0.3
)

// Scorer 实时事件使用的评分器，比轮询时的预过滤多考虑上下文词
type Scorer struct {
	matcher   *Matcher
	context   []string
	threshold float64
}

func NewScorer(matcher *Matcher, context []string, threshold float64) *Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	s := &Scorer{matcher: matcher, threshold: threshold}
	for _, w := range context {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			s.context = append(s.context, w)
		}
	}
	return s
}

// Score 返回 0.0 ~ 1.0 的暂定相关度，不是最终判定
func (s *Scorer) Score(text string) float64 {
	strict, flexible := s.matcher.Hits(text)
	if strict == 0 && flexible == 0 {
		return 0
	}

	score := float64(strict)*strictWeight + float64(flexible)*flexibleWeight

	lower := strings.ToLower(text)
	bonus := 0.0
	for _, w := range s.context {
		if strings.Contains(lower, w) {
			bonus += contextWeight
		}
	}
	if bonus > maxContextWeight {
		bonus = maxContextWeight
	}
	score += bonus

	if score > 1 {
		score = 1
	}
	return score
}

// Relevant 分数达到阈值即视为相关
func (s *Scorer) Relevant(text string) (bool, float64) {
	score := s.Score(text)
	return score >= s.threshold, score
}
