package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/usd-asset-library/backend/internal/http/response"
	"github.com/usd-asset-library/backend/internal/pkg/logger"
	"github.com/usd-asset-library/backend/internal/services"
)

type UserHandler struct {
	log      *logger.Logger
	identity services.IdentityService
	query    services.QueryService
}

func NewUserHandler(log *logger.Logger, identity services.IdentityService, query services.QueryService) *UserHandler {
	return &UserHandler{
		log:      log.With("handler", "UserHandler"),
		identity: identity,
		query:    query,
	}
}

// GET /api/users
func (h *UserHandler) ListUsers(c *gin.Context) {
	authors, err := h.identity.ListAuthors(dbcOf(c))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"users": authors})
}

// GET /api/users/:pennkey
func (h *UserHandler) GetUser(c *gin.Context) {
	out, err := h.query.GetUser(dbcOf(c), c.Param("pennkey"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"user": out})
}

// POST /api/users
// body: { "pennkey": "...", "firstName": "...", "lastName": "...", "email": "..." }
func (h *UserHandler) RegisterUser(c *gin.Context) {
	var req struct {
		Pennkey   string `json:"pennkey"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
	}
	if !bindJSON(c, &req) {
		return
	}
	author, err := h.identity.RegisterAuthor(dbcOf(c), services.RegisterAuthorInput{
		Pennkey:   req.Pennkey,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"user": author})
}
