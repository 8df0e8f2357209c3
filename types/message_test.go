package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleSystem.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("tool").Valid())
	assert.False(t, Role("").Valid())
}

func TestConversation_Helpers(t *testing.T) {
	conv := NewConversation(
		NewTurn(RoleSystem, TextBlock("be brief")),
		NewTurn(RoleUser, TextBlock("what is "), TextBlock("this?"), ImageURLBlock("https://example.com/a.png")),
		NewTurn(RoleUser, InlineImageBlock("image/png", "aGVsbG8=")),
	)

	assert.Equal(t, 2, conv.ImageCount())
	assert.Equal(t, "what is this?", conv.Turns[1].Text())
	assert.False(t, conv.Turns[1].Content[2].Image.IsInline())
	assert.True(t, conv.Turns[2].Content[0].Image.IsInline())
}
