package handlers

import (
	"context"
	"net/http"

	"github.com/BaSui01/claudegate/api"
	"github.com/BaSui01/claudegate/llm/catalog"
	"github.com/BaSui01/claudegate/llm/providers/claude"
	"go.uber.org/zap"
)

// ModelSource 提供模型列表，*catalog.Catalog 满足它。
type ModelSource interface {
	Models(ctx context.Context) ([]claude.ModelInfo, catalog.Source)
}

// ModelsHandler 模型列表处理器
type ModelsHandler struct {
	source ModelSource
	logger *zap.Logger
}

// NewModelsHandler 创建模型列表处理器
func NewModelsHandler(source ModelSource, logger *zap.Logger) *ModelsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelsHandler{
		source: source,
		logger: logger.With(zap.String("component", "models_handler")),
	}
}

// HandleList 处理 GET /api/v1/models。目录从不失败：上游不可用时返回
// 旧缓存或内置列表，source 字段标明来源。
// @Summary 模型列表
// @Tags 模型
// @Produce json
// @Success 200 {object} api.ModelListResponse "模型列表"
// @Router /api/v1/models [get]
func (h *ModelsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	models, src := h.source.Models(r.Context())
	if src == catalog.SourceFallback {
		h.logger.Debug("serving fallback model list")
	}
	WriteSuccess(w, r, api.ModelListResponse{
		Models: api.ModelsFrom(models),
		Source: string(src),
	})
}
