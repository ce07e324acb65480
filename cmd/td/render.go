package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"ticketdesk/internal/domain"
)

const noTickets = "No tickets found."

func renderTickets(w io.Writer, tickets []domain.Ticket) {
	if len(tickets) == 0 {
		fmt.Fprintln(w, noTickets)
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Title", "Sender", "Status", "Messages", "Last message"})
	for _, t := range tickets {
		tw.AppendRow(table.Row{t.ID, t.Title, senderLabel(t.Sender), t.Status, len(t.Messages), t.LastMessage})
	}
	tw.Render()
}

func renderCounts(w io.Writer, c domain.Counts) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Bucket", "Tickets"})
	tw.AppendRows([]table.Row{
		{domain.FilterAll, c.All},
		{domain.FilterNeedsSupervision, c.NeedsSupervision},
		{domain.FilterAutoAnswered, c.AutoAnswered},
		{domain.FilterAnswered, c.Answered},
	})
	tw.Render()
}
