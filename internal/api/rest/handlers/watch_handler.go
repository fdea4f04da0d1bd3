package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/streamflix/backend/internal/domain"
	"github.com/streamflix/backend/internal/middleware"
	"github.com/streamflix/backend/internal/services"
	"github.com/streamflix/backend/pkg/logger"
	"github.com/streamflix/backend/pkg/req"
)

// WatchHandler обработчик прогресса просмотра
type WatchHandler struct {
	progress *services.ProgressService
	log      *logger.Logger
}

// NewWatchHandler создает новый обработчик прогресса просмотра
func NewWatchHandler(progress *services.ProgressService, log *logger.Logger) *WatchHandler {
	return &WatchHandler{
		progress: progress,
		log:      log,
	}
}

// SaveProgressRequest тело запроса на сохранение позиции просмотра
type SaveProgressRequest struct {
	VideoIdentifier string `json:"video_identifier" validate:"required"`
	CurrentPosition int64  `json:"current_position" validate:"gte=0"`
}

// SaveProgress ставит обновление позиции в очередь на запись.
// Отвечает 202: запись асинхронная, момент долговечности не гарантируется.
func (h *WatchHandler) SaveProgress(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	body, err := req.HandleBody[SaveProgressRequest](c.Writer, c.Request, h.log)
	if err != nil {
		return
	}

	if err := h.progress.SaveProgress(c.Request.Context(), userID, body.VideoIdentifier, body.CurrentPosition); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid progress update"})
			return
		}
		h.log.Errorw("Failed to enqueue progress update", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save progress"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// GetProgress возвращает последнюю сохраненную позицию для видео
func (h *WatchHandler) GetProgress(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	videoIdentifier := c.Param("video")
	record, err := h.progress.GetProgress(c.Request.Context(), userID, videoIdentifier)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Просмотра еще не было: отдаем нулевую позицию, а не 404
			c.JSON(http.StatusOK, gin.H{
				"video_key":        services.NormalizeVideoKey(videoIdentifier),
				"current_position": 0,
			})
		case errors.Is(err, domain.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video identifier"})
		default:
			h.log.Errorw("Failed to load progress",
				"user_id", userID, "video", videoIdentifier, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load progress"})
		}
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetHistory возвращает историю просмотра пользователя
func (h *WatchHandler) GetHistory(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	records, err := h.progress.GetHistory(c.Request.Context(), userID)
	if err != nil {
		h.log.Errorw("Failed to load watch history", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load watch history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records})
}
