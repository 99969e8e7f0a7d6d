package broadcast

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/kiliankoe/babyguess/internal/kv"
)

// RedisSink publishes envelopes on the pub/sub channel <prefix>:events:<topic>.
type RedisSink struct {
	store *kv.Store
}

func NewRedisSink(store *kv.Store) *RedisSink {
	return &RedisSink{store: store}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, env Envelope) error {
	return s.store.Publish(ctx, s.store.Key("events", env.Topic), env)
}

// NATSSink publishes envelopes on <subject>.<topic>.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// ConnectNATS dials url; the returned sink owns the connection.
func ConnectNATS(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("babyguess"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}
	return NewNATSSink(conn, subject), nil
}

func NewNATSSink(conn *nats.Conn, subject string) *NATSSink {
	if subject == "" {
		subject = "babyguess"
	}
	return &NATSSink{conn: conn, subject: subject}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	return errors.Wrap(s.conn.Publish(s.subject+"."+env.Topic, data), "nats publish")
}

func (s *NATSSink) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
