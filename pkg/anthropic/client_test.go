package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "Hello, "},
			{Type: "tool_use", Text: "ignored"},
			{Type: "text", Text: "world"},
		},
	}
	assert.Equal(t, "Hello, world", resp.Text())
}

func TestMessageResponse_TextEmpty(t *testing.T) {
	assert.Equal(t, "", (&MessageResponse{}).Text())
}

func TestTokenUsage_Total(t *testing.T) {
	u := TokenUsage{InputTokens: 120, OutputTokens: 30}
	assert.Equal(t, int64(150), u.Total())
}
