package server

import (
	"github.com/RyanW02/eventstamp/internal/metrics"
	"github.com/RyanW02/eventstamp/pkg/commitment"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"net/http"
	"strconv"
)

type RetrieveLogsResponse struct {
	Logs []commitment.Fields `json:"logs"`
}

func (s *Server) HandleRetrieveLogs(c *gin.Context) {
	var limit int
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}

		limit = min(parsed, s.config.Retrieval.Limit)
	}

	ctx, cancelFunc := s.requestContext(c)
	defer cancelFunc()

	logs, err := s.pipeline.Retrieve(ctx, limit)
	if err != nil {
		metrics.RetrievalsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Failed to retrieve logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve logs"})
		return
	}

	metrics.RetrievalsTotal.WithLabelValues("ok").Inc()

	if logs == nil {
		logs = []commitment.Fields{}
	}

	c.JSON(http.StatusOK, RetrieveLogsResponse{
		Logs: logs,
	})
}
