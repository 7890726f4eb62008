package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/interfaces/http/middleware"
	"custody.backend/internal/interfaces/http/response"
)

// currentUser writes a 401 and returns false when the request carries no user
func currentUser(c *gin.Context) (int64, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("User not authenticated"))
		return 0, false
	}
	return userID, true
}

func pathID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, domainerrors.BadRequest("Invalid "+what+" ID"))
		return uuid.Nil, false
	}
	return id, true
}
