package types

import "strings"

// Role represents the role of a conversation participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// BlockType discriminates ContentBlock.
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
)

// ImageSource is either inline base64 data with a declared media type, or a
// remote URL. Exactly one of Data and URL is set.
type ImageSource struct {
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// IsInline reports whether the image carries its own payload.
func (s ImageSource) IsInline() bool {
	return s.URL == ""
}

// ContentBlock is one piece of a turn: text or an image.
type ContentBlock struct {
	Type  BlockType    `json:"type"`
	Text  string       `json:"text,omitempty"`
	Image *ImageSource `json:"image,omitempty"`
}

// TextBlock creates a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageURLBlock creates an image block that references a remote URL.
func ImageURLBlock(url string) ContentBlock {
	return ContentBlock{Type: BlockImage, Image: &ImageSource{URL: url}}
}

// InlineImageBlock creates an image block with base64 payload.
func InlineImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, Image: &ImageSource{MediaType: mediaType, Data: data}}
}

// Turn is one message in a conversation.
type Turn struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// NewTurn creates a turn from blocks.
func NewTurn(role Role, blocks ...ContentBlock) Turn {
	return Turn{Role: role, Content: blocks}
}

// UserText is shorthand for a single-text user turn.
func UserText(text string) Turn {
	return NewTurn(RoleUser, TextBlock(text))
}

// Text concatenates the turn's text blocks.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, b := range t.Content {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Conversation is the ordered list of turns submitted by the host.
type Conversation struct {
	Turns []Turn `json:"turns"`
}

// NewConversation creates a conversation from turns.
func NewConversation(turns ...Turn) Conversation {
	return Conversation{Turns: turns}
}

// ImageCount counts image blocks across all turns.
func (c Conversation) ImageCount() int {
	n := 0
	for _, t := range c.Turns {
		for _, b := range t.Content {
			if b.Type == BlockImage {
				n++
			}
		}
	}
	return n
}
