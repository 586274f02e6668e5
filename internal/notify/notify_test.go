package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPoster struct {
	mock.Mock
}

func (m *mockPoster) PostMessage(ctx context.Context, channelID, text string) error {
	args := m.Called(ctx, channelID, text)
	return args.Error(0)
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name    string
		content string
		limit   int
		want    []string
	}{
		{"短消息不拆分", "hello", 100, []string{"hello"}},
		{"按段落拆分", "aaaa\n\nbbbb\n\ncccc", 10, []string{"aaaa\n\nbbbb", "cccc"}},
		{"无段落时按行拆分", "aaaa\nbbbb\ncccc", 10, []string{"aaaa\n\nbbbb", "cccc"}},
		{"超长单行硬切", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitMessage(tt.content, tt.limit))
		})
	}
}

func TestSplitMessage_RespectsLimit(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("• 第 ")
		sb.WriteString(strings.Repeat("大模型", 10))
		sb.WriteString("\n")
		if i%7 == 0 {
			sb.WriteString("\n")
		}
	}
	sb.WriteString(strings.Repeat("长", 3000))

	parts := splitMessage(sb.String(), MaxMessageLength)
	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), MaxMessageLength)
		assert.True(t, utf8.ValidString(p))
	}
}

func TestNotify(t *testing.T) {
	client := new(mockPoster)
	client.On("PostMessage", mock.Anything, "CTARGET", "digest").Return(nil).Once()

	n := NewNotifier(client, "CTARGET")
	require.NoError(t, n.Notify(context.Background(), "digest"))
	client.AssertExpectations(t)
}

func TestNotify_EmptyContent(t *testing.T) {
	client := new(mockPoster)
	n := NewNotifier(client, "CTARGET")
	require.NoError(t, n.Notify(context.Background(), "  "))
	client.AssertNotCalled(t, "PostMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotify_Error(t *testing.T) {
	client := new(mockPoster)
	client.On("PostMessage", mock.Anything, "CTARGET", mock.Anything).Return(errors.New("channel_not_found"))

	err := NewNotifier(client, "CTARGET").Notify(context.Background(), "digest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}
