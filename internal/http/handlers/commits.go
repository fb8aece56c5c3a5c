package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/usd-asset-library/backend/internal/http/response"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/services"
)

type CommitHandler struct {
	log   *logger.Logger
	query services.QueryService
}

func NewCommitHandler(log *logger.Logger, query services.QueryService) *CommitHandler {
	return &CommitHandler{log: log.With("handler", "CommitHandler"), query: query}
}

// GET /api/commits?asset=&limit=
func (h *CommitHandler) ListCommits(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	out, err := h.query.ListCommits(dbcOf(c), c.Query("asset"), limit)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"commits": out})
}

// GET /api/commits/:id
func (h *CommitHandler) GetCommit(c *gin.Context) {
	out, err := h.query.GetCommit(dbcOf(c), c.Param("id"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"commit": out})
}
