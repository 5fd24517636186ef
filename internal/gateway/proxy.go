package gateway

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// proxy forwards a JSON POST to the user service and relays status and
// body back unchanged. A connection failure surfaces as 503, matching how
// transport errors on the broker side are reported.
func (s *Server) proxy(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := http.NewRequestWithContext(c.Request.Context(),
			http.MethodPost, s.userServiceURL+path, c.Request.Body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			s.logger.Error("user service unreachable",
				zap.String("path", path), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "authentication service unavailable"})
			return
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), body)
	}
}
