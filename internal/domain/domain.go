package domain

import (
	"encoding/json"
	"strings"
)

type Status string

const (
	StatusNew     Status = "NEW"
	StatusOpen    Status = "OPEN"
	StatusPending Status = "PENDING"
	StatusClosed  Status = "CLOSED"
)

// Valid reports whether s is one of the four canonical ticket states.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusOpen, StatusPending, StatusClosed:
		return true
	}
	return false
}

type MessageType string

const (
	MessageReceived MessageType = "received"
	MessageSent     MessageType = "sent"
)

type Sender struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Message is one turn of a ticket conversation. The backend names the sender
// field from_address; older payloads use from, which is accepted on decode.
type Message struct {
	ID        string      `json:"id"`
	Subject   string      `json:"subject"`
	Content   string      `json:"content"`
	From      string      `json:"from_address"`
	Timestamp string      `json:"timestamp"`
	Type      MessageType `json:"type" enum:"received,sent"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type wire Message
	var raw struct {
		wire
		LegacyFrom string `json:"from"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message(raw.wire)
	if m.From == "" {
		m.From = raw.LegacyFrom
	}
	return nil
}

type Ticket struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Origin      string    `json:"origin"`
	Messages    []Message `json:"messages"`
	Created     string    `json:"created"`
	LastMessage string    `json:"lastMessage"`
	Sender      Sender    `json:"sender"`
	Status      Status    `json:"status" enum:"NEW,OPEN,PENDING,CLOSED"`
}

// Last returns the most recent message, if any.
func (t Ticket) Last() (Message, bool) {
	if len(t.Messages) == 0 {
		return Message{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

// Clone returns a copy that shares no message storage with t.
func (t Ticket) Clone() Ticket {
	out := t
	if t.Messages != nil {
		out.Messages = make([]Message, len(t.Messages))
		copy(out.Messages, t.Messages)
	}
	return out
}

// Filter identifies one of the dashboard's status buckets.
type Filter string

const (
	FilterAll              Filter = "all"
	FilterNeedsSupervision Filter = "needs-supervision"
	FilterAutoAnswered     Filter = "auto-answered"
	FilterAnswered         Filter = "answered"
)

// ParseFilter maps a filter id to a Filter. Unknown and empty ids select all.
func ParseFilter(s string) Filter {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterNeedsSupervision, FilterAutoAnswered, FilterAnswered:
		return f
	}
	return FilterAll
}

// Matches reports whether a ticket belongs in the bucket. OPEN tickets only
// match FilterAll.
func (f Filter) Matches(t Ticket) bool {
	switch f {
	case FilterNeedsSupervision:
		return t.Status == StatusNew
	case FilterAutoAnswered:
		return t.Status == StatusPending
	case FilterAnswered:
		return t.Status == StatusClosed
	}
	return true
}

// MatchesQuery performs the case-insensitive search over title, description
// and sender identity. An empty query matches everything.
func MatchesQuery(t Ticket, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, field := range []string{t.Title, t.Description, t.Sender.Email, t.Sender.Name} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

type Counts struct {
	All              int `json:"all"`
	NeedsSupervision int `json:"needs-supervision"`
	AutoAnswered     int `json:"auto-answered"`
	Answered         int `json:"answered"`
}

// CountTickets buckets tickets by status.
func CountTickets(tickets []Ticket) Counts {
	c := Counts{All: len(tickets)}
	for _, t := range tickets {
		switch t.Status {
		case StatusNew:
			c.NeedsSupervision++
		case StatusPending:
			c.AutoAnswered++
		case StatusClosed:
			c.Answered++
		}
	}
	return c
}
