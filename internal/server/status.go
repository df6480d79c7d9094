package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"net/http"
)

func (s *Server) HandleStatus(c *gin.Context) {
	ctx, cancelFunc := s.requestContext(c)
	defer cancelFunc()

	if err := s.wallet.TestConnection(ctx); err != nil {
		s.logger.Error("failed to connect to the wallet store", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to connect to the wallet store"})
		return
	}

	balance, err := s.wallet.Balance(ctx)
	if err != nil {
		s.logger.Error("failed to read wallet balance", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "failed to read wallet balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "balance": balance})
}
