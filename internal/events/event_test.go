package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	before := time.Now().UTC()
	event := New("mail.text", "hello", map[string]interface{}{"a": "b"})

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, Source, event.Source)
	assert.Equal(t, "mail.text", event.Type)
	assert.False(t, event.TS.Before(before))
	assert.Equal(t, time.UTC, event.TS.Location())
	assert.NoError(t, event.Validate())

	other := New("mail.text", "hello", nil)
	assert.NotEqual(t, event.ID, other.ID)
}

func TestValidate(t *testing.T) {
	var nilEvent *Event
	assert.Error(t, nilEvent.Validate())

	event := New("mail.part", "x", nil)
	event.Type = ""
	assert.Error(t, event.Validate())

	event = New("mail.part", "x", nil)
	event.TS = time.Time{}
	assert.Error(t, event.Validate())
}

func TestDataJSON(t *testing.T) {
	event := New("mail.part", "x", nil)
	raw, err := event.DataJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", raw)

	event.Payload.Data = map[string]interface{}{"size": 5}
	raw, err = event.DataJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"size": 5}`, raw)

	var decoded Event
	require.NoError(t, decoded.SetDataJSON(raw))
	assert.Equal(t, float64(5), decoded.Payload.Data["size"])

	assert.Error(t, decoded.SetDataJSON("{not json"))
}

func TestMultiStopsAtFirstFailure(t *testing.T) {
	var calls []string
	failure := errors.New("down")

	sink := Multi(
		SinkFunc(func(context.Context, Event) error { calls = append(calls, "a"); return nil }),
		SinkFunc(func(context.Context, Event) error { calls = append(calls, "b"); return failure }),
		SinkFunc(func(context.Context, Event) error { calls = append(calls, "c"); return nil }),
	)

	err := sink.Emit(context.Background(), New("mail.text", "x", nil))
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, []string{"a", "b"}, calls)
}

// labelCounter sums Add calls per label set, shared by every child made
// with With.
type labelCounter struct {
	labels []string
	sums   map[string]float64
}

func newLabelCounter() *labelCounter {
	return &labelCounter{sums: make(map[string]float64)}
}

func (c *labelCounter) With(labelValues ...string) metrics.Counter {
	labels := append(append([]string{}, c.labels...), labelValues...)
	return &labelCounter{labels: labels, sums: c.sums}
}

func (c *labelCounter) Add(delta float64) {
	c.sums[strings.Join(c.labels, ",")] += delta
}

func TestCountedCountsSuccessfulEmits(t *testing.T) {
	counter := newLabelCounter()
	failing := false

	sink := Counted(SinkFunc(func(context.Context, Event) error {
		if failing {
			return errors.New("down")
		}
		return nil
	}), counter)

	require.NoError(t, sink.Emit(context.Background(), New("mail.text", "x", nil)))
	require.NoError(t, sink.Emit(context.Background(), New("mail.part", "x", nil)))
	require.NoError(t, sink.Emit(context.Background(), New("mail.part", "y", nil)))

	failing = true
	require.Error(t, sink.Emit(context.Background(), New("mail.part", "x", nil)))

	assert.Equal(t, map[string]float64{
		"type,mail.text": 1,
		"type,mail.part": 2,
	}, counter.sums)
}

func TestNewKeyedIsStable(t *testing.T) {
	first := NewKeyed("<1@example.com>|7|2", "mail.text", "x", nil)
	again := NewKeyed("<1@example.com>|7|2", "mail.text", "y", nil)

	assert.Equal(t, first.ID, again.ID)
	assert.NoError(t, first.Validate())

	assert.NotEqual(t, first.ID, NewKeyed("<1@example.com>|7|1", "mail.text", "x", nil).ID)
	assert.NotEqual(t, first.ID, NewKeyed("<1@example.com>|7|2", "mail.part", "x", nil).ID)
}

func TestLogSinkRejectsInvalidEvents(t *testing.T) {
	sink := NewLogSink()

	assert.NoError(t, sink.Emit(context.Background(), New("mail.text", "x", nil)))
	assert.Error(t, sink.Emit(context.Background(), Event{}))
}
