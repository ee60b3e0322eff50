// Package redis publishes history events on a Redis pub/sub channel so that
// peers and dashboards can follow ownership changes live.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/loykin/hookd/internal/history"
)

const DefaultChannel = "hookd:events"

type Sink struct {
	client  *goredis.Client
	channel string
}

// New parses a redis:// URL. The optional "channel" query parameter selects
// the channel; it is stripped before the URL reaches the client.
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty Redis DSN")
	}
	channel := DefaultChannel
	if i := strings.Index(dsn, "?"); i >= 0 {
		base, query := dsn[:i], dsn[i+1:]
		var keep []string
		for _, kv := range strings.Split(query, "&") {
			if v, ok := strings.CutPrefix(kv, "channel="); ok {
				if v != "" {
					channel = v
				}
				continue
			}
			if kv != "" {
				keep = append(keep, kv)
			}
		}
		dsn = base
		if len(keep) > 0 {
			dsn += "?" + strings.Join(keep, "&")
		}
	}

	opts, err := goredis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Sink{client: client, channel: channel}, nil
}

func (s *Sink) Channel() string { return s.channel }

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, b).Err()
}

func (s *Sink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
