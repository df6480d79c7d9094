package server

import (
	"github.com/RyanW02/eventstamp/internal/metrics"
	"github.com/RyanW02/eventstamp/pkg/events"
	"github.com/RyanW02/eventstamp/pkg/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"net/http"
	"time"
)

type (
	LogEventRequest struct {
		EventData map[string]any `json:"eventData"`
	}

	LogEventResponse struct {
		Tx      string `json:"tx"`
		Message string `json:"message"`
	}
)

func (s *Server) HandleLogEvent(c *gin.Context) {
	var req LogEventRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.EventData == nil {
		c.JSON(http.StatusBadRequest, LogEventResponse{Message: messageEventDataRequired})
		return
	}

	event := events.NewEventContext(c.ClientIP(), s.now(), c.Request.URL.Path, req.EventData)
	requestId := uuid.NewString()

	ctx, cancelFunc := s.requestContext(c)
	defer cancelFunc()

	start := time.Now()
	receipt, err := s.pipeline.Commit(ctx, event)
	metrics.CommitDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		kind := pipeline.KindOf(err)
		metrics.CommitFailures.WithLabelValues(string(kind)).Inc()

		s.logger.Error(
			"Failed to log event",
			zap.String("request_id", requestId),
			zap.String("kind", string(kind)),
			zap.String("address", event.Address),
			zap.Error(err),
		)

		httpErr := commitError(kind)
		c.JSON(httpErr.ResponseCode, LogEventResponse{Message: httpErr.Error()})
		return
	}

	metrics.CommitsTotal.Inc()
	metrics.CommitFees.Observe(float64(receipt.Fee))

	s.logger.Info(
		"Logged event",
		zap.String("request_id", requestId),
		zap.Stringer("tx_id", receipt.TxID),
		zap.Stringer("fingerprint", receipt.Fingerprint),
	)

	c.JSON(http.StatusOK, LogEventResponse{
		Tx:      receipt.TxID.String(),
		Message: messageLogged,
	})
}
