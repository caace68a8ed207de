package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/contrax-app/contrax/backend/internal/contracts"
	"github.com/contrax-app/contrax/backend/internal/render"
	"github.com/gin-gonic/gin"
)

const pdfContentType = "application/pdf"

func (h *httpHandler) handleCreateContract(c *gin.Context) {
	var request createContractRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, invalidJSON(err))
		return
	}
	contract, err := h.contracts.Create(c.Request.Context(), contracts.CreateRequest{
		UserID: request.UserID,
		Title:  request.Title,
		Body:   request.Body,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Contrato criado com sucesso",
		"contrato": newContractPayload(contract),
	})
}

func (h *httpHandler) handleListOwnContracts(c *gin.Context) {
	items, err := h.contracts.List(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newContractPayloads(items))
}

func (h *httpHandler) handleListAllContracts(c *gin.Context) {
	items, err := h.contracts.List(c.Request.Context(), "")
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newContractPayloads(items))
}

func (h *httpHandler) handleDownloadContract(c *gin.Context) {
	contract, err := h.contracts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	document, err := h.renderer.Render(render.Document{
		ContractID: contract.ID,
		Title:      contract.Title,
		Body:       contract.Body,
		Status:     string(contract.Status),
		Watermark:  contract.Watermarked(),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="contrato_%s.pdf"`, contract.ID))
	c.Data(http.StatusOK, pdfContentType, document)
}

func (h *httpHandler) handleContractHistory(c *gin.Context) {
	activities, err := h.contracts.ListActivities(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newActivityPayloads(activities))
}

func (h *httpHandler) handleSignContract(c *gin.Context) {
	h.transition(c, h.contracts.Sign, "Contrato assinado com sucesso")
}

func (h *httpHandler) handleFinalizeContract(c *gin.Context) {
	h.transition(c, h.contracts.Finalize, "Contrato finalizado com sucesso")
}

func (h *httpHandler) handleCancelContract(c *gin.Context) {
	h.transition(c, h.contracts.Cancel, "Contrato cancelado com sucesso")
}

func (h *httpHandler) transition(c *gin.Context, operation func(context.Context, string) (contracts.Contract, error), message string) {
	if _, err := operation(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

func (h *httpHandler) handleDashboard(c *gin.Context) {
	summary, err := h.contracts.Dashboard(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDashboardPayload(summary))
}

func (h *httpHandler) handleAdminDashboard(c *gin.Context) {
	summary, err := h.contracts.Dashboard(c.Request.Context(), "")
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDashboardPayload(summary))
}
