package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"ticketdesk/internal/domain"
	"ticketdesk/internal/store"
)

func TestRenderTicketsEmptyStore(t *testing.T) {
	var buf bytes.Buffer
	renderTickets(&buf, store.New().List(domain.FilterAll, ""))
	assert.Equal(t, "No tickets found.\n", buf.String())
}

func TestRenderTicketsTable(t *testing.T) {
	st := store.New()
	st.Replace([]domain.Ticket{
		{ID: 1, Title: "Printer on fire", Status: domain.StatusNew, Sender: domain.Sender{Email: "ana@example.com", Name: "Ana"}},
		{ID: 2, Title: "Thanks", Status: domain.StatusClosed, Sender: domain.Sender{Email: "bo@example.com"}},
	})

	var buf bytes.Buffer
	renderTickets(&buf, st.List(domain.FilterNeedsSupervision, ""))
	out := buf.String()
	assert.Contains(t, out, "Printer on fire")
	assert.Contains(t, out, "Ana <ana@example.com>")
	assert.NotContains(t, out, "Thanks")
	assert.NotContains(t, out, noTickets)

	buf.Reset()
	renderTickets(&buf, st.List(domain.FilterAll, "nothing matches this"))
	assert.Equal(t, noTickets+"\n", buf.String())
}

func TestRenderCounts(t *testing.T) {
	var buf bytes.Buffer
	renderCounts(&buf, domain.Counts{All: 4, NeedsSupervision: 2, AutoAnswered: 1, Answered: 1})
	out := buf.String()
	assert.Regexp(t, `all\s+\|\s+4\s+\|`, out)
	assert.Regexp(t, `needs-supervision\s+\|\s+2\s+\|`, out)
	assert.Regexp(t, `auto-answered\s+\|\s+1\s+\|`, out)
	assert.Regexp(t, `answered\s+\|\s+1\s+\|`, out)
}
