package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
)

const (
	HeaderAttempt   = "x-attempt"
	HeaderNotBefore = "x-not-before"
)

// ErrTransient marks handler errors that a later delivery can fix.
var ErrTransient = errors.New("transient")

// Transient wraps err so the router calls the handler again and parks the message
// instead of committing it once the in-place budget is spent.
func Transient(err error) error {
	return retry.RetryableError(fmt.Errorf("%w: %w", ErrTransient, err))
}

type Handler func(context.Context, kafka.Message) error

// Forwarder writes a copy of a message to another topic.
type Forwarder interface {
	Forward(ctx context.Context, m kafka.Message) error
}

type Router struct {
	l             *slog.Logger
	topicHandlers map[string]Handler
	retries       uint64
	retryDelay    time.Duration

	retry       Forwarder
	deadLetter  Forwarder
	maxAttempts int
	parkDelay   time.Duration
	now         func() time.Time
}

func NewRouter() *Router {
	return &Router{
		l:             slog.Default().WithGroup("kafka"),
		topicHandlers: make(map[string]Handler),
		retries:       5,
		retryDelay:    time.Millisecond * 200,
		maxAttempts:   10,
		parkDelay:     time.Second * 30,
		now:           time.Now,
	}
}

func (r *Router) Handle(topic string, handler Handler) *Router {
	r.topicHandlers[topic] = handler
	return r
}

// WithRetry sets how many times a handler returning a transient error is called again in place.
func (r *Router) WithRetry(retries uint64, delay time.Duration) *Router {
	r.retries = retries
	r.retryDelay = delay

	return r
}

// WithRedelivery parks messages that are still failing transiently on the retry topic, each
// time with a longer delay. After maxAttempts parkings they go to the dead letter topic.
func (r *Router) WithRedelivery(retryTopic, deadLetter Forwarder, maxAttempts int, delay time.Duration) *Router {
	r.retry = retryTopic
	r.deadLetter = deadLetter
	r.maxAttempts = maxAttempts
	r.parkDelay = delay

	return r
}

func (r *Router) WithClock(now func() time.Time) *Router {
	r.now = now
	return r
}

// Process handles m. A nil result means the offset may be committed: the message was handled,
// rejected for good, or parked on another topic. Otherwise the message must be delivered again.
func (r *Router) Process(ctx context.Context, m kafka.Message) error {
	l := r.l.With("topic", m.Topic, "partition", m.Partition, "offset", m.Offset)

	handler, ok := r.topicHandlers[m.Topic]
	if !ok {
		l.Warn("kafka handler not found")
		return nil
	}

	err := r.wait(ctx, m)
	if err != nil {
		return err
	}

	backoff := retry.WithCappedDuration(time.Second*10, retry.NewExponential(r.retryDelay))

	err = retry.Do(ctx, retry.WithMaxRetries(r.retries, backoff), func(ctx context.Context) error {
		return handler(ctx, m)
	})
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !errors.Is(err, ErrTransient) {
		l.Error(fmt.Sprintf("handle kafka msg: %s", err))
		return nil
	}

	return r.park(ctx, l, m, err)
}

func (r *Router) park(ctx context.Context, l *slog.Logger, m kafka.Message, cause error) error {
	attempt := attemptOf(m) + 1

	if r.retry != nil && attempt <= r.maxAttempts {
		delay := r.parkDelay << (attempt - 1)
		if delay <= 0 || delay > time.Hour {
			delay = time.Hour
		}

		out := copyMessage(m)
		out.Headers = setHeader(out.Headers, HeaderAttempt, strconv.Itoa(attempt))
		out.Headers = setHeader(out.Headers, HeaderNotBefore, r.now().Add(delay).UTC().Format(time.RFC3339Nano))

		err := r.retry.Forward(ctx, out)
		if err != nil {
			return fmt.Errorf("forward to retry topic: %w", err)
		}

		l.Warn("kafka msg parked for redelivery", "attempt", attempt, "delay", delay.String(), "error", cause.Error())

		return nil
	}

	if r.deadLetter != nil {
		out := copyMessage(m)
		out.Headers = setHeader(out.Headers, HeaderAttempt, strconv.Itoa(attempt))

		err := r.deadLetter.Forward(ctx, out)
		if err != nil {
			return fmt.Errorf("forward to dead letter topic: %w", err)
		}

		l.Error("kafka msg sent to dead letter topic", "attempt", attempt, "error", cause.Error())

		return nil
	}

	return fmt.Errorf("handle kafka msg: %w", cause)
}

func (r *Router) wait(ctx context.Context, m kafka.Message) error {
	v := headerValue(m, HeaderNotBefore)
	if v == "" {
		return nil
	}

	notBefore, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}

	d := notBefore.Sub(r.now())
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func attemptOf(m kafka.Message) int {
	n, err := strconv.Atoi(headerValue(m, HeaderAttempt))
	if err != nil {
		return 0
	}

	return n
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}

	return ""
}

func setHeader(headers []kafka.Header, key, value string) []kafka.Header {
	for i := range headers {
		if headers[i].Key == key {
			headers[i].Value = []byte(value)
			return headers
		}
	}

	return append(headers, kafka.Header{Key: key, Value: []byte(value)})
}

func copyMessage(m kafka.Message) kafka.Message {
	headers := make([]kafka.Header, len(m.Headers))
	copy(headers, m.Headers)

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
	}
}
