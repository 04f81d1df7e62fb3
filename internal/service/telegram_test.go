package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePairs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"single", "BTCUSDT", []string{"BTCUSDT"}},
		{"lowercase normalized", "btcusdt ethusdt", []string{"BTCUSDT", "ETHUSDT"}},
		{"separators", "btcusdt, ethusdt; adausdt", []string{"BTCUSDT", "ETHUSDT", "ADAUSDT"}},
		{"duplicates dropped", "BTCUSDT btcusdt", []string{"BTCUSDT"}},
		{"empty", "   ", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parsePairs(tc.input))
		})
	}
}

func TestSplitMessageShort(t *testing.T) {
	chunks := splitMessage("hello", 4096)
	assert.Equal(t, []string{"hello"}, chunks)
}

func TestSplitMessagePrefersLineBreaks(t *testing.T) {
	text := strings.Repeat("line one\n", 3) + "tail"
	chunks := splitMessage(text, 20)

	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 20)
		assert.NotEmpty(t, c)
	}
	joined := strings.Join(chunks, "\n")
	assert.Contains(t, joined, "tail")
}

func TestSplitMessageHardWrap(t *testing.T) {
	text := strings.Repeat("x", 50)
	chunks := splitMessage(text, 20)

	assert.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("x", 20), chunks[0])
}
