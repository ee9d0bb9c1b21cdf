package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"office-queue-backend/internal/parse"
)

type userView struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// GetUsers lists the known users.
func (h *Handler) GetUsers(c *gin.Context) {
	users, err := h.store.Users(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]userView, len(users))
	for i, u := range users {
		out[i] = userView{Code: u.Code, Name: u.Name}
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

type addUserRequest struct {
	Code string `json:"code" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// PostUser registers a new user.
func (h *Handler) PostUser(c *gin.Context) {
	var req addUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	code, err := parse.UserCode(req.Code)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name, err := parse.UserName(req.Name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.AddUser(c.Request.Context(), code, name); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, userView{Code: code, Name: name})
}
