package kafka

import (
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("bay"),
		Value:     []byte(`{"dataset":"bay","source":"/data/bay.nc"}`),
		Topic:     "tide-cache-requests",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "requested_by", Value: []byte("ops")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("bay"), raw.Key)
	assert.JSONEq(t, `{"dataset":"bay","source":"/data/bay.nc"}`, string(raw.Value))
	assert.Equal(t, "tide-cache-requests", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "ops", raw.Headers["requested_by"])
	assert.Nil(t, raw.Commit)

	req, err := domain.ParseBuildRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "/data/bay.nc", req.Source)
}

func TestToMessage(t *testing.T) {
	finished := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	out, err := domain.SerializeBuildResult(domain.BuildResult{
		ID:         "b-1",
		Dataset:    "bay",
		Status:     domain.StatusBuilt,
		NTides:     8,
		FinishedAt: finished,
	})
	require.NoError(t, err)

	msg := toMessage(out)

	assert.Equal(t, []byte("bay"), msg.Key)
	var res domain.BuildResult
	require.NoError(t, json.Unmarshal(msg.Value, &res))
	assert.Equal(t, "built", res.Status)
	assert.Equal(t, 8, res.NTides)

	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "finished_at", msg.Headers[0].Key)
	assert.Equal(t, []byte(finished.Format(time.RFC3339)), msg.Headers[0].Value)
	assert.Equal(t, "status", msg.Headers[1].Key)
	assert.Equal(t, []byte("built"), msg.Headers[1].Value)
}

func TestToMessage_NoHeaders(t *testing.T) {
	msg := toMessage(domain.OutputEvent{Key: []byte("k"), Value: []byte("{}")})
	assert.Empty(t, msg.Headers)
	assert.Equal(t, []byte("{}"), msg.Value)
}
