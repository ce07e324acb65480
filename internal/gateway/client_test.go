package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketdesk/internal/domain"
)

func TestCheckConnection(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health-check", r.URL.Path)
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/api/")
	assert.True(t, c.CheckConnection(context.Background()))
	healthy = false
	assert.False(t, c.CheckConnection(context.Background()))

	dead := New("http://127.0.0.1:1")
	assert.False(t, dead.CheckConnection(context.Background()))
}

func TestFetchEmails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/emails", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":1,"title":"Hi","status":"NEW","sender":{"email":"a@example.com","name":"A"},
			"messages":[{"id":"9","subject":"Hi","content":"hello","from_address":"a@example.com","timestamp":"t","type":"received"}]}]`))
	}))
	defer srv.Close()

	tickets, err := New(srv.URL).FetchEmails(context.Background())
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, domain.StatusNew, tickets[0].Status)
	assert.Equal(t, "a@example.com", tickets[0].Messages[0].From)
}

func TestFetchEmailsNullBodyIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`null`))
	}))
	defer srv.Close()

	tickets, err := New(srv.URL).FetchEmails(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, tickets)
	assert.Empty(t, tickets)
}

func TestFetchEmailsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "imap down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).FetchEmails(context.Background())
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, http.StatusInternalServerError, gwErr.StatusCode)
	assert.Equal(t, "fetch-emails", gwErr.Op)
	assert.Contains(t, gwErr.Body, "imap down")
}

func TestFetchEmailsTransportFailure(t *testing.T) {
	_, err := New("http://127.0.0.1:1").FetchEmails(context.Background())
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Zero(t, gwErr.StatusCode)
	assert.NotNil(t, gwErr.Unwrap())
}

func TestSendEmail(t *testing.T) {
	var got SendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/emails/send", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(SendResult{Message: SendAccepted, Response: "ok"})
	}))
	defer srv.Close()

	res, err := New(srv.URL).SendEmail(context.Background(), 5, "Dear customer", "c@example.com")
	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Equal(t, SendRequest{TicketID: 5, Content: "Dear customer", Recipient: "c@example.com"}, got)

	assert.False(t, SendResult{Message: "queued"}.Accepted())
}

func TestGenerateResponsePostsTicket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails/generate-response", r.URL.Path)
		var tk domain.Ticket
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&tk))
		assert.Equal(t, 3, tk.ID)
		_, _ = w.Write([]byte(`{"response":"drafted"}`))
	}))
	defer srv.Close()

	out, err := New(srv.URL).GenerateResponse(context.Background(), domain.Ticket{ID: 3})
	require.NoError(t, err)
	assert.Equal(t, "drafted", out)
}

func TestClientSharedAcrossGoroutines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	require.NotNil(t, c.HTTPClient)
	assert.Equal(t, DefaultTimeout, c.HTTPClient.Timeout)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, c.CheckConnection(context.Background()))
		}()
	}
	wg.Wait()
}
