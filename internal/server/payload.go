package server

import (
	"time"

	"github.com/contrax-app/contrax/backend/internal/contracts"
	"github.com/contrax-app/contrax/backend/internal/realtime"
)

type createContractRequest struct {
	UserID string `json:"userId"`
	Title  string `json:"titulo"`
	Body   string `json:"conteudo"`
}

type checkoutRequest struct {
	UserID string `json:"userId"`
	Plan   string `json:"plano"`
	Email  string `json:"email"`
}

type contractPayload struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Title          string    `json:"titulo"`
	Body           string    `json:"conteudo"`
	Status         string    `json:"status"`
	PlanAtCreation string    `json:"planoNaCriacao"`
	CreatedAt      time.Time `json:"criadoEm"`
	UpdatedAt      time.Time `json:"atualizadoEm"`
}

type activityPayload struct {
	UserID     string    `json:"userId"`
	Action     string    `json:"acao"`
	ContractID string    `json:"contratoId"`
	Timestamp  time.Time `json:"timestamp"`
}

type dashboardPayload struct {
	Total     int `json:"total"`
	Signed    int `json:"assinados"`
	Finalized int `json:"finalizados"`
}

type eventPayload struct {
	ContractIDs []string  `json:"contratoIds,omitempty"`
	Plan        string    `json:"plano,omitempty"`
	Status      string    `json:"status,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func newContractPayload(contract contracts.Contract) contractPayload {
	return contractPayload{
		ID:             contract.ID,
		UserID:         contract.OwnerID,
		Title:          contract.Title,
		Body:           contract.Body,
		Status:         string(contract.Status),
		PlanAtCreation: contract.PlanAtCreation.String(),
		CreatedAt:      contract.CreatedAt.UTC(),
		UpdatedAt:      contract.UpdatedAt.UTC(),
	}
}

func newContractPayloads(items []contracts.Contract) []contractPayload {
	payloads := make([]contractPayload, 0, len(items))
	for _, contract := range items {
		payloads = append(payloads, newContractPayload(contract))
	}
	return payloads
}

func newActivityPayloads(items []contracts.Activity) []activityPayload {
	payloads := make([]activityPayload, 0, len(items))
	for _, activity := range items {
		payloads = append(payloads, activityPayload{
			UserID:     activity.UserID,
			Action:     string(activity.Action),
			ContractID: activity.ContractID,
			Timestamp:  activity.OccurredAt.UTC(),
		})
	}
	return payloads
}

func newDashboardPayload(summary contracts.Summary) dashboardPayload {
	return dashboardPayload{Total: summary.Total, Signed: summary.Signed, Finalized: summary.Finalized}
}

func newEventPayload(message realtime.Message) eventPayload {
	return eventPayload{
		ContractIDs: message.ContractIDs,
		Plan:        message.Plan,
		Status:      message.Status,
		Timestamp:   message.Timestamp.UTC(),
	}
}
