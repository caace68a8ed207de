package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	record, err := h.profiles.Get(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record.ProfileView())
}

func (h *httpHandler) handleMergeProfile(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		h.respondError(c, invalidJSON(err))
		return
	}
	if _, err := h.profiles.MergeProfile(c.Request.Context(), c.Param("userId"), fields); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Perfil atualizado com sucesso"})
}
