package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-service/internal/callctx"
	"chat-service/internal/metrics"
	"chat-service/internal/models"
	"chat-service/internal/services"
)

func TestRelay_HandleRepublishesLocally(t *testing.T) {
	var buf bytes.Buffer
	topics := services.NewTopics(10, nil)
	relay := NewRelay(nil, topics, "chat:", zerolog.New(&buf))

	chatID := uuid.New()
	sub := topics.Subscribe(chatID)
	defer sub.Close()

	sender := uuid.New()
	sendCtx, end := callctx.Begin(context.Background(), zerolog.Nop(), callctx.Fields{
		UserID:           sender.String(),
		InitiatorService: "project-service",
		Method:           "send_request_response",
	})
	defer end()

	msg := models.Message{ID: uuid.New(), ChatID: chatID, SenderID: sender, Content: "hi", CreatedAt: time.Now().UTC()}
	payload, err := services.EncodeRelay(sendCtx, msg)
	require.NoError(t, err)

	require.NoError(t, relay.handle(services.ChatChannel("chat:", chatID), string(payload)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "hi", got.Content)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "message relayed", line["message"])
	assert.Equal(t, sender.String(), line["userId"])
	assert.Equal(t, "project-service", line["initiatorService"])
	assert.Equal(t, callctx.CallID(sendCtx), line["originCallId"])
	assert.NotEqual(t, callctx.CallID(sendCtx), line["callId"])
}

func TestRelay_HandleRejectsBadInput(t *testing.T) {
	topics := services.NewTopics(10, nil)
	relay := NewRelay(nil, topics, "chat:", zerolog.Nop())

	chatID := uuid.New()
	other, _ := json.Marshal(models.RelayEnvelope{Message: models.Message{ID: uuid.New(), ChatID: uuid.New()}})

	tests := []struct {
		name    string
		channel string
		payload string
	}{
		{name: "channel without uuid", channel: "chat:abc", payload: "{}"},
		{name: "payload not json", channel: services.ChatChannel("chat:", chatID), payload: "nope"},
		{name: "chat id mismatch", channel: services.ChatChannel("chat:", chatID), payload: string(other)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, relay.handle(tt.channel, tt.payload))
		})
	}
	assert.Empty(t, topics.Snapshot(chatID))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, relayBaseDelay, backoff(0))
	assert.Equal(t, 2*relayBaseDelay, backoff(1))
	assert.Equal(t, relayMaxDelay, backoff(10))
	assert.Equal(t, relayMaxDelay, backoff(100))
}

func TestJanitor_SweepEvictsOnlyIdleTopics(t *testing.T) {
	topics := services.NewTopics(10, nil)
	idle, busy := uuid.New(), uuid.New()
	topics.Publish(idle, models.Message{ChatID: idle})
	sub := topics.Subscribe(busy)
	defer sub.Close()

	j := NewJanitor(topics, time.Hour, time.Minute, metrics.New(), zerolog.Nop())
	j.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	assert.Equal(t, 1, j.sweep())
	assert.Equal(t, 1, topics.Len())
	assert.Empty(t, topics.Snapshot(idle))
}

func TestJanitor_StartStop(t *testing.T) {
	j := NewJanitor(services.NewTopics(10, nil), time.Hour, 10*time.Millisecond, nil, zerolog.Nop())
	j.Start()
	time.Sleep(30 * time.Millisecond)
	j.Stop()
	j.Stop()

	disabled := NewJanitor(services.NewTopics(10, nil), 0, time.Minute, nil, zerolog.Nop())
	disabled.Start()
	disabled.Stop()
}
