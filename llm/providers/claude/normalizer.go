package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/claudegate/llm/multimodal"
	"github.com/BaSui01/claudegate/llm/providers"
	"github.com/BaSui01/claudegate/types"
	"go.uber.org/zap"
)

// URLValidator vets a user-supplied image URL.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// ImageFetcher downloads a vetted image URL for inline mode.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*multimodal.Image, error)
}

// Options are the per-request parameters supplied by the host.
type Options struct {
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	TopK        *int
	Stream      bool
}

// NormalizerConfig configures a Normalizer.
type NormalizerConfig struct {
	DefaultModel     string
	DefaultMaxTokens int
	MaxTurns         int
	ImageURLMode     string
	Vision           multimodal.VisionConfig
}

// NormalizerConfigFrom derives a NormalizerConfig from provider config.
func NormalizerConfigFrom(c providers.ClaudeConfig) NormalizerConfig {
	return NormalizerConfig{
		DefaultModel:     c.Model,
		DefaultMaxTokens: c.MaxTokens,
		MaxTurns:         c.MaxTurns,
		ImageURLMode:     c.ImageURLMode,
		Vision:           multimodal.DefaultVisionConfig(),
	}
}

// Normalizer turns a Conversation into a MessagesRequest. It never mutates
// its input and, for the same input and options, builds structurally equal
// requests. DNS lookups (and the image download in inline mode) are its only
// side effects.
type Normalizer struct {
	cfg       NormalizerConfig
	validator URLValidator
	fetcher   ImageFetcher
	logger    *zap.Logger
}

// NewNormalizer creates a Normalizer. fetcher may be nil unless the image
// URL mode is inline.
func NewNormalizer(cfg NormalizerConfig, validator URLValidator, fetcher ImageFetcher, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = providers.DefaultMaxTokens
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = providers.DefaultMaxTurns
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = providers.DefaultClaudeModel
	}
	if cfg.ImageURLMode == "" {
		cfg.ImageURLMode = providers.ImageURLPassthrough
	}
	if len(cfg.Vision.AllowedFormats) == 0 {
		cfg.Vision = multimodal.DefaultVisionConfig()
	}
	return &Normalizer{
		cfg:       cfg,
		validator: validator,
		fetcher:   fetcher,
		logger:    logger.With(zap.String("component", "normalizer")),
	}
}

// Normalize validates conv and builds the upstream request.
//
// Structure is checked for every turn before any image is resolved, so an
// invalid later turn never triggers a DNS lookup.
func (n *Normalizer) Normalize(ctx context.Context, conv types.Conversation, model string, opts Options) (*MessagesRequest, error) {
	if err := n.checkStructure(conv); err != nil {
		return nil, err
	}
	if err := checkOptions(opts); err != nil {
		return nil, err
	}

	req := &MessagesRequest{
		Model:       ResolveModel(model, n.cfg.DefaultModel),
		MaxTokens:   n.cfg.DefaultMaxTokens,
		Temperature: copyPtr(opts.Temperature),
		TopP:        copyPtr(opts.TopP),
		TopK:        copyPtr(opts.TopK),
		Stream:      opts.Stream,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	var system []string
	for i, turn := range conv.Turns {
		if turn.Role == types.RoleSystem {
			if text := strings.TrimSpace(turn.Text()); text != "" {
				system = append(system, text)
			}
			continue
		}

		parts := make([]ContentPart, 0, len(turn.Content))
		for j, block := range turn.Content {
			part, keep, err := n.convertBlock(ctx, block)
			if err != nil {
				n.logger.Debug("block rejected",
					zap.Int("turn", i), zap.Int("block", j),
					zap.String("kind", string(types.KindOf(err))))
				return nil, err
			}
			if keep {
				parts = append(parts, part)
			}
		}
		if len(parts) == 0 {
			return nil, types.NewValidationError(types.ReasonEmptyTurn,
				fmt.Sprintf("turn %d has no content", i))
		}
		req.Messages = append(req.Messages, Message{Role: string(turn.Role), Content: parts})
	}
	req.System = strings.Join(system, "\n\n")
	return req, nil
}

func (n *Normalizer) checkStructure(conv types.Conversation) error {
	if len(conv.Turns) == 0 {
		return types.NewValidationError(types.ReasonEmptyConversation, "conversation has no turns")
	}
	if len(conv.Turns) > n.cfg.MaxTurns {
		return types.NewValidationError(types.ReasonTooManyTurns,
			fmt.Sprintf("conversation has %d turns, limit %d", len(conv.Turns), n.cfg.MaxTurns))
	}

	nonSystem := 0
	for i, turn := range conv.Turns {
		if !turn.Role.Valid() {
			return types.NewValidationError(types.ReasonInvalidRole,
				fmt.Sprintf("turn %d has role %q", i, turn.Role))
		}
		if len(turn.Content) == 0 {
			return types.NewValidationError(types.ReasonEmptyTurn,
				fmt.Sprintf("turn %d has no content", i))
		}
		for j, b := range turn.Content {
			switch b.Type {
			case types.BlockText:
			case types.BlockImage:
				if turn.Role == types.RoleSystem {
					return types.NewValidationError(types.ReasonInvalidParameter,
						fmt.Sprintf("system turn %d carries an image", i))
				}
				if b.Image == nil || (b.Image.URL == "" && b.Image.Data == "") {
					return types.NewValidationError(types.ReasonInvalidImage,
						fmt.Sprintf("turn %d block %d has no image source", i, j))
				}
			default:
				return types.NewValidationError(types.ReasonInvalidParameter,
					fmt.Sprintf("turn %d block %d has unknown type %q", i, j, b.Type))
			}
		}
		if turn.Role != types.RoleSystem {
			nonSystem++
		}
	}
	if nonSystem == 0 {
		return types.NewValidationError(types.ReasonEmptyConversation, "conversation has only system turns")
	}
	return nil
}

func checkOptions(opts Options) error {
	switch {
	case opts.MaxTokens < 0:
		return types.NewValidationError(types.ReasonInvalidParameter, "max_tokens must not be negative")
	case opts.Temperature != nil && (*opts.Temperature < 0 || *opts.Temperature > 1):
		return types.NewValidationError(types.ReasonInvalidParameter, "temperature must be in [0,1]")
	case opts.TopP != nil && (*opts.TopP < 0 || *opts.TopP > 1):
		return types.NewValidationError(types.ReasonInvalidParameter, "top_p must be in [0,1]")
	case opts.TopK != nil && *opts.TopK < 0:
		return types.NewValidationError(types.ReasonInvalidParameter, "top_k must not be negative")
	}
	return nil
}

// convertBlock returns keep=false for blocks that contribute nothing, such as
// empty text.
func (n *Normalizer) convertBlock(ctx context.Context, b types.ContentBlock) (ContentPart, bool, error) {
	if b.Type == types.BlockText {
		if b.Text == "" {
			return ContentPart{}, false, nil
		}
		return ContentPart{Type: "text", Text: b.Text}, true, nil
	}

	src := *b.Image
	if src.URL != "" && multimodal.IsDataURL(src.URL) {
		mt, data, err := multimodal.ParseDataURL(src.URL)
		if err != nil {
			return ContentPart{}, false, err
		}
		src = types.ImageSource{MediaType: mt, Data: data}
	}

	if src.IsInline() {
		img, err := n.cfg.Vision.ValidateInline(src.MediaType, src.Data)
		if err != nil {
			return ContentPart{}, false, err
		}
		return base64Part(img), true, nil
	}

	if n.validator == nil {
		return ContentPart{}, false, types.NewSSRFError(types.ReasonInvalidURL, "no url validator configured")
	}
	if err := n.validator.Validate(ctx, src.URL); err != nil {
		return ContentPart{}, false, err
	}
	if n.cfg.ImageURLMode == providers.ImageURLInline && n.fetcher != nil {
		img, err := n.fetcher.Fetch(ctx, src.URL)
		if err != nil {
			return ContentPart{}, false, err
		}
		return base64Part(img), true, nil
	}
	return ContentPart{Type: "image", Source: &ImageSource{Type: SourceURL, URL: src.URL}}, true, nil
}

func base64Part(img *multimodal.Image) ContentPart {
	return ContentPart{Type: "image", Source: &ImageSource{
		Type:      SourceBase64,
		MediaType: string(img.MediaType),
		Data:      img.Data,
	}}
}

// ResolveModel strips a host routing prefix such as "pipe." or "pipe/" in
// front of a Claude model id, and falls back to def when model is empty.
func ResolveModel(model, def string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return def
	}
	if i := strings.IndexAny(model, "./"); i >= 0 {
		if rest := model[i+1:]; strings.HasPrefix(rest, "claude") {
			return rest
		}
	}
	return model
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
