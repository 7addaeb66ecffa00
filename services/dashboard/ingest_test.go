package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
	"github.com/ramiqadoumi/go-resilience/internal/kafka"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeCapturer struct {
	reports []domain.ErrorReport
}

func (c *fakeCapturer) CaptureError(r domain.ErrorReport) string {
	c.reports = append(c.reports, r)
	return "error_test"
}

type fakeRateLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (r *fakeRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	r.keys = append(r.keys, key)
	return r.allow, r.err
}
func (r *fakeRateLimiter) Limit() int { return 1 }

// fakeConsumer delivers its messages in order and records which ones the
// handler accepted.
type fakeConsumer struct {
	msgs      []kafka.Message
	committed []int64
}

func (c *fakeConsumer) Subscribe(ctx context.Context, h kafka.HandlerFunc) error {
	for _, m := range c.msgs {
		if err := h(ctx, m); err == nil {
			c.committed = append(c.committed, m.Offset)
		}
	}
	return nil
}
func (c *fakeConsumer) Close() error { return nil }

// ── helpers ───────────────────────────────────────────────────────────────────

func reportMessage(t *testing.T, offset int64, r domain.ErrorReport) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	return kafka.Message{Topic: "faults", Offset: offset, Value: raw}
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestIngestor_CapturesReports(t *testing.T) {
	capt := &fakeCapturer{}
	consumer := &fakeConsumer{msgs: []kafka.Message{
		reportMessage(t, 1, domain.ErrorReport{Kind: domain.ErrorNetwork, Message: "fetch failed", URL: "http://x"}),
	}}
	ing := NewIngestor(consumer, capt, nil, slog.Default())

	require.NoError(t, ing.Run(context.Background()))

	require.Len(t, capt.reports, 1)
	assert.Equal(t, domain.ErrorNetwork, capt.reports[0].Kind)
	assert.Equal(t, "http://x", capt.reports[0].URL)
	assert.Equal(t, []int64{1}, consumer.committed)
}

func TestIngestor_MalformedMessagesAreCommittedAndDropped(t *testing.T) {
	capt := &fakeCapturer{}
	consumer := &fakeConsumer{msgs: []kafka.Message{
		{Offset: 1, Value: []byte("{not json")},
		reportMessage(t, 2, domain.ErrorReport{Kind: domain.ErrorAPI, Message: "   "}),
		reportMessage(t, 3, domain.ErrorReport{Kind: domain.ErrorAPI, Message: "500 from /orders"}),
	}}
	ing := NewIngestor(consumer, capt, nil, slog.Default())

	require.NoError(t, ing.Run(context.Background()))

	require.Len(t, capt.reports, 1)
	assert.Equal(t, "500 from /orders", capt.reports[0].Message)
	assert.Equal(t, []int64{1, 2, 3}, consumer.committed)
}

func TestIngestor_UsesMessageTimeWhenReportHasNone(t *testing.T) {
	capt := &fakeCapturer{}
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	msg := reportMessage(t, 1, domain.ErrorReport{Message: "boom"})
	msg.Time = at
	ing := NewIngestor(&fakeConsumer{msgs: []kafka.Message{msg}}, capt, nil, slog.Default())

	require.NoError(t, ing.Run(context.Background()))
	require.Len(t, capt.reports, 1)
	assert.True(t, at.Equal(capt.reports[0].OccurredAt))
}

func TestIngestor_RateLimitedReportsAreDropped(t *testing.T) {
	capt := &fakeCapturer{}
	limiter := &fakeRateLimiter{allow: false}
	consumer := &fakeConsumer{msgs: []kafka.Message{
		reportMessage(t, 7, domain.ErrorReport{Kind: domain.ErrorChunkLoad, Message: "Loading chunk 3 failed"}),
	}}
	ing := NewIngestor(consumer, capt, NewGate(limiter, slog.Default()), slog.Default())

	require.NoError(t, ing.Run(context.Background()))

	assert.Empty(t, capt.reports)
	assert.Equal(t, []string{"chunkLoad"}, limiter.keys)
	assert.Equal(t, []int64{7}, consumer.committed)
}

func TestGate_Admit(t *testing.T) {
	ctx := context.Background()

	var nilGate *Gate
	assert.True(t, nilGate.Admit(ctx, domain.ErrorAPI))
	assert.True(t, NewGate(nil, slog.Default()).Admit(ctx, domain.ErrorAPI))
	assert.True(t, NewGate(&fakeRateLimiter{allow: true}, slog.Default()).Admit(ctx, domain.ErrorAPI))
	assert.False(t, NewGate(&fakeRateLimiter{allow: false}, slog.Default()).Admit(ctx, domain.ErrorAPI))

	failing := &fakeRateLimiter{allow: false, err: errors.New("redis down")}
	assert.True(t, NewGate(failing, slog.Default()).Admit(ctx, domain.ErrorAPI), "limiter errors admit the report")
}
