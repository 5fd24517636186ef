package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timonen87/ocr-microservices/internal/broker"
	"github.com/timonen87/ocr-microservices/internal/ocr"
	"github.com/timonen87/ocr-microservices/internal/store"
)

// handleOCR reads the uploaded file, wraps it in a request envelope built
// from the token claims and blocks on the RPC call. The worker's response
// body is returned verbatim.
func (s *Server) handleOCR(c *gin.Context) {
	claims, ok := claimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "missing token claims"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "missing file upload"})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	payload, err := json.Marshal(ocr.Request{
		UserName:  claims.Name,
		UserEmail: claims.Email,
		UserID:    claims.ID,
		File:      base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	id := uuid.NewString()
	s.recordStatus(c, id, store.StatusQueued)
	c.Header("X-Request-ID", id)

	body, err := s.caller.Do(c.Request.Context(), id, payload, s.rpcTimeout)
	if err != nil {
		s.logger.Error("ocr call failed", zap.String("id", id), zap.Error(err))
		switch {
		case errors.Is(err, broker.ErrTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"detail": "ocr service unavailable"})
		case broker.IsTransport(err):
			c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "ocr service unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		}
		return
	}

	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) recordStatus(c *gin.Context, id, status string) {
	if s.statuses == nil {
		return
	}
	if err := s.statuses.SetStatus(c.Request.Context(), id, status); err != nil {
		s.logger.Warn("status update failed", zap.String("id", id), zap.Error(err))
	}
}
