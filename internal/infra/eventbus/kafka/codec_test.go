package kafka

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/crawl-sentinel/internal/domain/crawl"
	"github.com/ahrav/crawl-sentinel/internal/domain/events"
)

func TestEnvelopeCodec(t *testing.T) {
	t.Parallel()

	evt := events.NewEnvelope(events.EventTypeCrawlerPush, "job-1",
		crawl.PushEvent{Type: "worker_done", Source: "bbc", ArticleCount: 9})

	data, err := encodeEnvelope(evt)
	require.NoError(t, err)

	decoded, err := decodeEnvelope(data, "job-1")
	require.NoError(t, err)
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, events.EventTypeCrawlerPush, decoded.Type)
	assert.Equal(t, "job-1", decoded.Key)
	assert.True(t, evt.Timestamp.Equal(decoded.Timestamp))

	raw, ok := decoded.Payload.(json.RawMessage)
	require.True(t, ok)
	push, err := crawl.DecodePushEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "bbc", push.Source)
	assert.Equal(t, 9, push.ArticleCount)
}

func TestDecodeEnvelopeRejectsMissingType(t *testing.T) {
	t.Parallel()

	_, err := decodeEnvelope([]byte(`{"id": "x", "payload": {}}`), "job-1")
	require.Error(t, err)
}
