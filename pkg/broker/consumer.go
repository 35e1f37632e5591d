package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
)

type Consumer struct {
	l          *slog.Logger
	r          *kafka.Reader
	wg         *sync.WaitGroup
	router     *Router
	retryDelay time.Duration
}

func NewConsumer(
	brokers []string,
	groupID string,
	router *Router,
	topics ...string,
) *Consumer {
	l := slog.Default().WithGroup("kafka").With("group_id", groupID)

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		Logger:      &infoLogger{l: l},
		ErrorLogger: &errorLogger{l: l},
	})

	return &Consumer{
		l:          l,
		r:          r,
		wg:         &sync.WaitGroup{},
		router:     router,
		retryDelay: time.Second,
	}
}

// Consume commits a message only after the router accepted it. A message the router hands back
// is processed again, so the partition does not move past it.
func (c *Consumer) Consume(ctx context.Context) *Consumer {
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		for {
			m, err := c.r.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					c.l.Info("consumer stopped")
					return
				}

				c.l.Error(fmt.Sprintf("fetch kafka msg: %s", err))

				continue
			}

			if !c.process(ctx, m) {
				c.l.Info("consumer stopped")
				return
			}

			err = c.r.CommitMessages(ctx, m)
			if err != nil && ctx.Err() == nil {
				c.l.Error(fmt.Sprintf("commit kafka msg: %s", err))
			}
		}
	}()

	return c
}

func (c *Consumer) process(ctx context.Context, m kafka.Message) bool {
	backoff := retry.WithCappedDuration(time.Minute, retry.NewExponential(c.retryDelay))

	for {
		err := c.router.Process(ctx, m)
		if err == nil {
			return true
		}

		if ctx.Err() != nil {
			return false
		}

		d, _ := backoff.Next()

		c.l.Error(fmt.Sprintf("kafka msg not accepted, retrying in %s: %s", d, err),
			"topic", m.Topic, "partition", m.Partition, "offset", m.Offset)

		t := time.NewTimer(d)

		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

func (c *Consumer) Close() {
	err := c.r.Close()
	if err != nil {
		c.l.Error(fmt.Sprintf("close kafka reader: %s", err))
	}

	c.wg.Wait()
}

type infoLogger struct {
	l *slog.Logger
}

func (l *infoLogger) Printf(format string, v ...any) {
	l.l.Info(fmt.Sprintf(format, v...))
}

type errorLogger struct {
	l *slog.Logger
}

func (l *errorLogger) Printf(format string, v ...any) {
	l.l.Error(fmt.Sprintf(format, v...))
}
