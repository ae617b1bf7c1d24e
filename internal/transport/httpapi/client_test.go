package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func TestSendPostsContentAndClientID(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages/api/messages/bob", r.URL.Path)
		assert.Equal(t, "session=abc", r.Header.Get("Cookie"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 12, "content": "hi", "sender_id": 1, "recipient_id": 2,
			"created_at": "2024-05-01T12:00:00", "updated_at": "2024-05-01T12:00:00",
			"client_message_id": "c1"}`))
	}, WithSessionCookie("session=abc"))

	m, err := c.Send(context.Background(), "bob", "hi", "c1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got["content"])
	assert.Equal(t, "c1", got["client_message_id"])
	assert.Equal(t, model.MessageID("12"), m.ID)
	assert.Equal(t, "c1", m.ClientMessageID)
}

func TestFetchSinceQuery(t *testing.T) {
	var queries []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		_, _ = w.Write([]byte(`[{"id": 5, "content": "a", "created_at": "2024-05-01T12:00:00"}]`))
	})

	msgs, err := c.FetchSince(context.Background(), "bob", "4")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageID("5"), msgs[0].ID)

	_, err = c.FetchSince(context.Background(), "bob", model.TempID("c1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"since_id=4", ""}, queries)
}

func TestSetStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/messages/api/messages/7/status", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "read", body["status"])
		_, _ = w.Write([]byte(`{"id": 7, "read": true, "read_at": "2024-05-01T12:05:00"}`))
	})

	m, err := c.SetStatus(context.Background(), "7", model.Read)
	require.NoError(t, err)
	assert.True(t, m.Read)
	require.NotNil(t, m.ReadAt)

	_, err = c.SetStatus(context.Background(), model.TempID("x"), model.Read)
	assert.Error(t, err)
}

func TestServerRejectionIsAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "Content is required"}`))
	})

	_, err := c.Send(context.Background(), "bob", "", "c1")
	var apiErr *transport.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Content is required", apiErr.Message)
	assert.False(t, transport.IsTransient(err))
}

func TestSlowServerIsTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))
	defer close(release)

	_, err := c.Send(context.Background(), "bob", "hi", "c1")
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestUnreachableServerIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	require.NoError(t, err)
	_, err = c.FetchSince(context.Background(), "bob", "")
	assert.ErrorIs(t, err, transport.ErrOffline)
}

func TestCallerCancellationIsNotTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchSince(ctx, "bob", "")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, transport.ErrTimeout))
}

func TestReachabilityEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	c, err := New(srv.URL)
	require.NoError(t, err)
	ch, unsub := c.Subscribe(4)
	defer unsub()

	_, err = c.FetchSince(context.Background(), "bob", "")
	require.NoError(t, err)
	srv.Close()
	_, err = c.FetchSince(context.Background(), "bob", "")
	require.ErrorIs(t, err, transport.ErrOffline)

	select {
	case evt := <-ch:
		assert.Equal(t, bus.KindDisconnected, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for transport.disconnected")
	}
}

func TestLookups(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/users/get_id":
			assert.Equal(t, "bob", r.URL.Query().Get("username"))
			_, _ = w.Write([]byte(`{"user_id": 7, "username": "bob"}`))
		case "/api/users/get_username":
			assert.Equal(t, "7", r.URL.Query().Get("user_id"))
			_, _ = w.Write([]byte(`{"user_id": 7, "username": "bob"}`))
		default:
			http.NotFound(w, r)
		}
	})

	id, err := c.LookupUserID(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "7", id)

	name, err := c.LookupUsername(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "bob", name)
}

func TestNormalizeBaseURL(t *testing.T) {
	got, err := NormalizeBaseURL(" https://chat.example.com/ ")
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", got)

	_, err = NormalizeBaseURL("chat.example.com")
	assert.Error(t, err)
	_, err = NormalizeBaseURL("")
	assert.Error(t, err)
}
