package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/matheus3301/dmsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	data := []byte(`{
		"id": 42,
		"content": "hi",
		"created_at": "2024-05-01T12:00:00.123456",
		"updated_at": "2024-05-01T12:00:01",
		"read": false,
		"read_at": null,
		"delivered": true,
		"delivered_at": "2024-05-01T12:00:02+00:00",
		"edited": false,
		"deleted": false,
		"sender_id": 1,
		"recipient_id": "2",
		"client_message_id": "c1"
	}`)

	m, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, model.MessageID("42"), m.ID)
	assert.Equal(t, "1", m.SenderID)
	assert.Equal(t, "2", m.RecipientID)
	assert.Equal(t, "c1", m.ClientMessageID)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC), m.CreatedAt)
	assert.Nil(t, m.ReadAt)
	require.NotNil(t, m.DeliveredAt)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 2, 0, time.UTC), *m.DeliveredAt)
	assert.True(t, m.ID.IsServer())
}

func TestDecodeMessageDefaultsUpdatedAt(t *testing.T) {
	m, err := DecodeMessage([]byte(`{"id":"3","content":"x","created_at":"2024-05-01T12:00:00"}`))
	require.NoError(t, err)
	assert.Equal(t, m.CreatedAt, m.UpdatedAt)
}

func TestDecodeMessagesRejectsGarbage(t *testing.T) {
	_, err := DecodeMessages([]byte(`{"not":"an array"}`))
	assert.Error(t, err)

	_, err = DecodeMessage([]byte(`{"id":1,"created_at":"yesterday"}`))
	assert.Error(t, err)
}

func TestStatusWireUpdate(t *testing.T) {
	s := StatusWire{MessageID: "9", ReadAt: Time{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}}
	u := s.Update(model.Read)
	assert.Equal(t, model.MessageID("9"), u.MessageID)
	require.NotNil(t, u.At)

	assert.Nil(t, s.Update(model.Delivered).At)
}

func TestPresenceAcceptsBoolOrString(t *testing.T) {
	assert.Equal(t, "true", PresenceWire{UserID: "1", Status: []byte(`true`)}.Presence().Status)
	assert.Equal(t, "online", PresenceWire{UserID: "1", Status: []byte(`"online"`)}.Presence().Status)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrOffline, true},
		{fmt.Errorf("send: %w", ErrTimeout), true},
		{context.DeadlineExceeded, true},
		{&APIError{Status: 400, Message: "Content is required"}, false},
		{errors.New("decode failure"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransient(tt.err), "IsTransient(%v)", tt.err)
	}
}
