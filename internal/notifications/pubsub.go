package notifications

import (
	"context"
	"errors"
	"strings"

	"framez/internal/observability"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// PubSubConfig selects the Google Cloud project and topic used for change events.
type PubSubConfig struct {
	ProjectID       string
	Topic           string
	CredentialsFile string
}

// PubSubBus wraps the Google Cloud Pub/Sub SDK client. Each instance creates
// its own subscription on the shared topic and removes it on Close.
type PubSubBus struct {
	client *pubsub.Client
	topic  *pubsub.Topic

	subscriptions []*pubsub.Subscription
}

// NewPubSubBus constructs a Pub/Sub bus and makes sure the topic exists.
func NewPubSubBus(ctx context.Context, cfg PubSubConfig) (*PubSubBus, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("pubsub topic is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	topic := client.Topic(cfg.Topic)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if !exists {
		if topic, err = client.CreateTopic(ctx, cfg.Topic); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	return &PubSubBus{client: client, topic: topic}, nil
}

// Name implements Bus.
func (b *PubSubBus) Name() string { return "pubsub" }

// Publish sends ev to the topic and waits for the server ack.
func (b *PubSubBus) Publish(ctx context.Context, ev ChangeEvent) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	result := b.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"collection": ev.Collection, "kind": string(ev.Kind)},
	})
	_, err = result.Get(ctx)
	return err
}

// Subscribe creates an instance-private subscription and receives until ctx is done.
func (b *PubSubBus) Subscribe(ctx context.Context, h Handler) error {
	name := b.topic.ID() + "-" + uuid.NewString()
	sub, err := b.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{Topic: b.topic})
	if err != nil {
		return err
	}
	b.subscriptions = append(b.subscriptions, sub)

	go func() {
		err := sub.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
			ev, err := decodeEvent(msg.Data)
			if err != nil {
				observability.GlobalLogger.Warn("dropping malformed change event",
					"bus", b.Name(), "error", err.Error())
				msg.Ack()
				return
			}
			dispatch(b.Name(), h, ev)
			msg.Ack()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			observability.GlobalLogger.Error("pubsub receive stopped", "subscription", name, "error", err.Error())
		}
	}()
	return nil
}

// Close deletes the subscriptions this instance created and closes the client.
func (b *PubSubBus) Close() error {
	for _, sub := range b.subscriptions {
		_ = sub.Delete(context.Background())
	}
	b.topic.Stop()
	return b.client.Close()
}
