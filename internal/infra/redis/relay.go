package redis

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"live-session-service/internal/domain"
	"live-session-service/internal/realtime"
)

// DefaultChannelPrefix namespaces the per-session pub/sub channels.
const DefaultChannelPrefix = "live:session:"

// Deliverer hands an encoded frame to the sockets of this process.
type Deliverer interface {
	Deliver(sessionID string, frame []byte) int
}

// Relay fans events out across processes: Publish sends to the session's
// channel and every process running Start delivers what it receives into its
// local hub.
type Relay struct {
	client *redis.Client
	prefix string
	local  Deliverer
	log    *slog.Logger
}

func NewRelay(client *redis.Client, prefix string, local Deliverer, logger *slog.Logger) *Relay {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{client: client, prefix: prefix, local: local, log: logger}
}

// Publish implements app.Publisher.
func (r *Relay) Publish(ctx context.Context, sessionID string, event domain.Event) error {
	frame, err := realtime.Encode(event.Name, event.Payload)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	if err := r.client.Publish(ctx, r.channel(sessionID), frame).Err(); err != nil {
		return errors.Wrapf(err, "publish %s", event.Name)
	}
	return nil
}

// Start subscribes to every session channel and returns once the subscription
// is confirmed. The returned stop function unsubscribes and waits for the
// delivery loop to exit.
func (r *Relay) Start(ctx context.Context) (func(), error) {
	ps := r.client.PSubscribe(ctx, r.prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, "subscribe to session channels")
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.loop(ctx, ps.Channel())
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = ps.Close()
			wg.Wait()
		})
	}, nil
}

func (r *Relay) loop(ctx context.Context, messages <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			sessionID := strings.TrimPrefix(msg.Channel, r.prefix)
			if sessionID == msg.Channel {
				r.log.Warn("relay message on unexpected channel", "channel", msg.Channel)
				continue
			}
			r.local.Deliver(sessionID, []byte(msg.Payload))
		}
	}
}

func (r *Relay) channel(sessionID string) string {
	return r.prefix + sessionID
}
