package server

import (
	"ticketdesk/internal/actions"
	"ticketdesk/internal/agents"
	"ticketdesk/internal/domain"
)

type TicketListResponse struct {
	Filter domain.Filter   `json:"filter" enum:"all,needs-supervision,auto-answered,answered"`
	Query  string          `json:"query,omitempty"`
	Items  []domain.Ticket `json:"items"`
	Counts domain.Counts   `json:"counts"`
}

// TicketResponse is the detail view: the stored ticket plus whether a send
// would currently be accepted.
type TicketResponse struct {
	Ticket  domain.Ticket `json:"ticket"`
	CanSend bool          `json:"can_send"`
}

type AgentsResponse struct {
	Default  string           `json:"default"`
	Profiles []agents.Profile `json:"profiles"`
}

func ticketResponse(t domain.Ticket) TicketResponse {
	return TicketResponse{Ticket: t, CanSend: actions.CanSend(t) == nil}
}
