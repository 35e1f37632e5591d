package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/samandr77/microservices/billing/pkg/broker"
)

type forwarder struct {
	msgs []kafka.Message
	err  error
}

func (f *forwarder) Forward(_ context.Context, m kafka.Message) error {
	if f.err != nil {
		return f.err
	}

	f.msgs = append(f.msgs, m)

	return nil
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}

	return ""
}

func TestRouter_Process(t *testing.T) {
	t.Parallel()

	errStorage := errors.New("conn closed")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		headers    []kafka.Header
		handlerErr error
		noRetry    bool
		forwardErr error
		wantErr    bool
		wantCalls  int
		wantRetry  int
		wantDead   int
		wantHeader string
	}{
		{name: "handled", wantCalls: 1},
		{name: "permanent failure is committed", handlerErr: errors.New("bad payload"), wantCalls: 1},
		{
			name:       "transient failure is parked",
			handlerErr: broker.Transient(errStorage),
			wantCalls:  3,
			wantRetry:  1,
			wantHeader: "1",
		},
		{
			name:       "parked again with next attempt",
			headers:    []kafka.Header{{Key: broker.HeaderAttempt, Value: []byte("2")}},
			handlerErr: broker.Transient(errStorage),
			wantCalls:  3,
			wantRetry:  1,
			wantHeader: "3",
		},
		{
			name:       "attempts exhausted go to dead letters",
			headers:    []kafka.Header{{Key: broker.HeaderAttempt, Value: []byte("3")}},
			handlerErr: broker.Transient(errStorage),
			wantCalls:  3,
			wantDead:   1,
			wantHeader: "4",
		},
		{
			name:       "parking failure keeps the message",
			handlerErr: broker.Transient(errStorage),
			forwardErr: errors.New("kafka: leader not available"),
			wantErr:    true,
			wantCalls:  3,
		},
		{
			name:       "nowhere to park keeps the message",
			handlerErr: broker.Transient(errStorage),
			noRetry:    true,
			wantErr:    true,
			wantCalls:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			retries := &forwarder{err: tt.forwardErr}
			deadLetters := &forwarder{err: tt.forwardErr}

			calls := 0

			r := broker.NewRouter().
				Handle("webhooks", func(context.Context, kafka.Message) error {
					calls++
					return tt.handlerErr
				}).
				WithRetry(2, time.Millisecond).
				WithClock(func() time.Time { return now })

			if !tt.noRetry {
				r.WithRedelivery(retries, deadLetters, 3, time.Minute)
			}

			err := r.Process(context.Background(), kafka.Message{
				Topic:   "webhooks",
				Key:     []byte("pay_1"),
				Value:   []byte(`{"eventId":"evt_1"}`),
				Headers: tt.headers,
			})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			require.Equal(t, tt.wantCalls, calls)
			require.Len(t, retries.msgs, tt.wantRetry)
			require.Len(t, deadLetters.msgs, tt.wantDead)

			for _, m := range append(retries.msgs, deadLetters.msgs...) {
				require.Equal(t, "pay_1", string(m.Key))
				require.Equal(t, `{"eventId":"evt_1"}`, string(m.Value))
				require.Empty(t, m.Topic)
				require.Equal(t, tt.wantHeader, header(m, broker.HeaderAttempt))
			}

			if tt.wantRetry > 0 {
				notBefore, err := time.Parse(time.RFC3339Nano, header(retries.msgs[0], broker.HeaderNotBefore))
				require.NoError(t, err)
				require.True(t, notBefore.After(now))
			}
		})
	}
}

func TestRouter_Process_WaitsForParkedMessage(t *testing.T) {
	t.Parallel()

	called := false

	r := broker.NewRouter().Handle("webhooks.retry", func(context.Context, kafka.Message) error {
		called = true
		return nil
	})

	m := kafka.Message{
		Topic: "webhooks.retry",
		Headers: []kafka.Header{
			{Key: broker.HeaderNotBefore, Value: []byte(time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano))},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Process(ctx, m)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, called)

	m.Headers[0].Value = []byte(time.Now().Add(-time.Second).UTC().Format(time.RFC3339Nano))

	require.NoError(t, r.Process(context.Background(), m))
	require.True(t, called)
}

func TestRouter_Process_UnknownTopic(t *testing.T) {
	t.Parallel()

	r := broker.NewRouter()

	require.NoError(t, r.Process(context.Background(), kafka.Message{Topic: "other"}))
}
