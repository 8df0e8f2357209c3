package api

import (
	"encoding/json"
	"testing"

	"github.com/BaSui01/claudegate/llm/providers/claude"
	"github.com/BaSui01/claudegate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent_UnmarshalForms(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantList bool
		wantText string
		wantN    int
		wantErr  bool
	}{
		{"string", `"hello"`, false, "hello", 0, false},
		{"null", `null`, false, "", 0, false},
		{"parts", `[{"type":"text","text":"hi"},{"type":"image_url","image_url":{"url":"https://x/y.png"}}]`, true, "", 2, false},
		{"empty list", `[]`, true, "", 0, false},
		{"number", `42`, false, "", 0, true},
		{"object", `{"type":"text"}`, false, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Content
			err := json.Unmarshal([]byte(tt.in), &c)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantList, c.IsList())
			assert.Equal(t, tt.wantText, c.Text)
			assert.Len(t, c.Parts, tt.wantN)
		})
	}
}

func TestContent_MarshalKeepsForm(t *testing.T) {
	b, err := json.Marshal(Message{Role: "user", Content: TextContent("hi")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"hi"}`, string(b))

	b, err = json.Marshal(Message{Role: "user", Content: PartsContent(ContentPart{Type: PartText, Text: "hi"})})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[{"type":"text","text":"hi"}]}`, string(b))
}

func TestChatRequest_ToConversation(t *testing.T) {
	var req ChatRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"model": "pipe.claude-sonnet-4-5-20250929",
		"stream": true,
		"temperature": 0.2,
		"top_k": 5,
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "User", "content": [
				{"type": "text", "text": "what is this?"},
				{"type": "image_url", "image_url": {"url": " https://images.example.com/cat.png "}},
				{"type": "audio", "text": "ignored"}
			]},
			{"role": "assistant", "content": [{"type": "file"}]},
			{"role": "assistant", "content": "a cat"}
		]
	}`), &req))

	conv := req.ToConversation()
	require.Len(t, conv.Turns, 3, "list content with no usable parts is skipped")

	assert.Equal(t, types.RoleSystem, conv.Turns[0].Role)
	assert.Equal(t, "be brief", conv.Turns[0].Text())

	user := conv.Turns[1]
	assert.Equal(t, types.RoleUser, user.Role)
	require.Len(t, user.Content, 2)
	assert.Equal(t, types.BlockText, user.Content[0].Type)
	require.NotNil(t, user.Content[1].Image)
	assert.Equal(t, "https://images.example.com/cat.png", user.Content[1].Image.URL)
	assert.Equal(t, 1, conv.ImageCount())

	assert.Equal(t, types.RoleAssistant, conv.Turns[2].Role)

	opts := req.ToOptions()
	require.NotNil(t, opts.Temperature)
	assert.Equal(t, 0.2, *opts.Temperature)
	assert.Nil(t, opts.TopP)
	require.NotNil(t, opts.TopK)
	assert.Equal(t, 5, *opts.TopK)
	assert.False(t, opts.Stream, "the pipeline decides the stream flag")
}

func TestChatRequest_ImagePartWithoutURL(t *testing.T) {
	req := ChatRequest{Messages: []Message{{
		Role:    "user",
		Content: PartsContent(ContentPart{Type: PartImageURL}),
	}}}
	conv := req.ToConversation()
	require.Len(t, conv.Turns, 1)
	require.NotNil(t, conv.Turns[0].Content[0].Image)
	assert.Empty(t, conv.Turns[0].Content[0].Image.URL, "left for the normalizer to reject")
}

func TestChunkFromEvent(t *testing.T) {
	c, ok := ChunkFromEvent(claude.Event{Type: claude.EventTextDelta, Text: "hi"})
	require.True(t, ok)
	assert.Equal(t, StreamChunk{Type: ChunkDelta, Text: "hi"}, c)

	c, ok = ChunkFromEvent(claude.Event{Type: claude.EventDone, MessageID: "m", StopReason: "end_turn",
		Usage: &claude.Usage{InputTokens: 3, OutputTokens: 4}})
	require.True(t, ok)
	assert.Equal(t, ChunkDone, c.Type)
	assert.Equal(t, &Usage{InputTokens: 3, OutputTokens: 4}, c.Usage)

	c, ok = ChunkFromEvent(claude.Event{Type: claude.EventMessageStart, MessageID: "m", Model: "claude-x"})
	require.True(t, ok)
	assert.Equal(t, ChunkStart, c.Type)

	_, ok = ChunkFromEvent(claude.Event{Type: claude.EventMessageDelta})
	assert.False(t, ok)
}

func TestModelsFrom(t *testing.T) {
	got := ModelsFrom([]claude.ModelInfo{
		{ID: "claude-a", DisplayName: "Claude A"},
		{ID: "claude-b"},
	})
	assert.Equal(t, []ModelInfo{{ID: "claude-a", Name: "Claude A"}, {ID: "claude-b", Name: "claude-b"}}, got)
	assert.NotNil(t, ModelsFrom(nil))
}

func TestErrorDetailFrom(t *testing.T) {
	d := ErrorDetailFrom(&types.SafeError{
		Kind: types.KindValidation, Reason: types.ReasonImageTooLarge,
		Message: "Image too large (max 5MB).", RequestID: "r1",
	})
	assert.Equal(t, "VALIDATION_ERROR", d.Code)
	assert.Equal(t, "image_too_large", d.Reason)
	assert.Equal(t, "r1", d.RequestID)
}
