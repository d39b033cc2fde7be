package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"waflow/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

const (
	eventsStreamSuffix = "_EVENTS"
	eventsDedupWindow  = 2 * time.Minute
	eventsMaxAge       = 24 * time.Hour
	eventsPublishWait  = 2 * time.Second
)

// NATSBus keeps the in-process fan-out and mirrors every event onto a
// JetStream stream (waflow.events.<tenant>.<type>, event id as the
// broker dedup key). The mirror never blocks or fails the publishing
// stage; consumers that need history read the database, not the bus.
type NATSBus struct {
	local  *MemoryBus
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
	logger *logrus.Logger
}

func NewNATSBus(cfg models.EventsConfig, logger *logrus.Logger) (*NATSBus, error) {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "waflow"
	}

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name(prefix+"-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	b := &NATSBus{
		local:  NewMemoryBus(logger),
		conn:   conn,
		js:     js,
		prefix: prefix,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       strings.ToUpper(prefix) + eventsStreamSuffix,
		Subjects:   []string{prefix + ".events.>"},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     eventsMaxAge,
		Duplicates: eventsDedupWindow,
		Replicas:   1,
	}); err != nil {
		conn.Close()
		return nil, err
	}

	return b, nil
}

func (b *NATSBus) Publish(ctx context.Context, event Event) {
	b.local.Publish(ctx, event)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.WithError(err).WithField("type", event.Type).Error("Failed to encode event")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, eventsPublishWait)
	defer cancel()
	if _, err := b.js.Publish(pubCtx, b.subject(event), data, jetstream.WithMsgID(event.ID)); err != nil {
		b.logger.WithError(err).WithField("type", event.Type).Warn("Failed to mirror event to NATS")
	}
}

func (b *NATSBus) Subscribe(tenantID string) (<-chan Event, func()) {
	return b.local.Subscribe(tenantID)
}

func (b *NATSBus) Close() error {
	if b.conn != nil && !b.conn.IsClosed() {
		b.conn.Close()
	}
	return b.local.Close()
}

// subject maps an event onto the NATS hierarchy. The colon in event type
// names is not a NATS token separator, so it becomes an underscore:
// waflow.events.<tenant>.message_new.
func (b *NATSBus) subject(event Event) string {
	typeToken := strings.ReplaceAll(string(event.Type), ":", "_")
	tenant := event.TenantID
	if tenant == "" {
		tenant = "_global"
	}
	return b.prefix + ".events." + tenant + "." + typeToken
}
