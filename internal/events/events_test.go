package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	payloads [][]byte
}

func (s *captureSink) Write(p []byte) error {
	s.payloads = append(s.payloads, p)
	return nil
}

func TestBus_PublishReachesAllHandlers(t *testing.T) {
	bus := NewBus()

	var got []AvailabilityChanged
	bus.Subscribe(func(ev AvailabilityChanged) { got = append(got, ev) })
	bus.Subscribe(func(ev AvailabilityChanged) { got = append(got, ev) })

	bus.Publish(AvailabilityChanged{ResourceID: "r1", Cause: CauseCancelled})

	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ResourceID)
	assert.False(t, got[0].At.IsZero(), "publish stamps At when unset")
}

func TestBus_SinkReceivesJSON(t *testing.T) {
	bus := NewBus()
	sink := &captureSink{}
	bus.AddSink(sink)

	start := time.Date(2026, 12, 2, 0, 0, 0, 0, time.UTC)
	bus.Publish(AvailabilityChanged{
		TenantID:   "t1",
		ResourceID: "r2",
		Start:      start,
		End:        start.Add(48 * time.Hour),
		Cause:      CauseCapacityAdded,
	})

	require.Len(t, sink.payloads, 1)

	var decoded AvailabilityChanged
	require.NoError(t, json.Unmarshal(sink.payloads[0], &decoded))
	assert.Equal(t, CauseCapacityAdded, decoded.Cause)
	assert.Equal(t, "r2", decoded.ResourceID)
	assert.True(t, decoded.Start.Equal(start))
}
