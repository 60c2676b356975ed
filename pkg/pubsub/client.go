package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/petstore-backend/pkg/config"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
	"github.com/angelmondragon/petstore-backend/pkg/outbox"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub confirmation topic is required")
)

type publishResult interface {
	Get(context.Context) (string, error)
}

type topicPublisher interface {
	Publish(context.Context, *pubsub.Message) publishResult
	Stop()
}

// Client publishes confirmations to Pub/Sub topics.
type Client struct {
	client    *pubsub.Client
	projectID string
	topic     string

	newPublisher func(fullName string) topicPublisher

	mu         sync.Mutex
	publishers map[string]topicPublisher
}

// clientOptions prefers inline JSON credentials over a credentials file and
// falls back to application default credentials.
func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

// NewClient creates a Pub/Sub v2 client and ensures the confirmation topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.ConfirmationTopic) == "" {
		return nil, errTopicRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: gcp.ProjectID,
		topic:     cfg.ConfirmationTopic,
		newPublisher: func(fullName string) topicPublisher {
			return &gcpPublisher{Publisher: psClient.Publisher(fullName)}
		},
		publishers: map[string]topicPublisher{},
	}

	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}

	return c, nil
}

// Ping verifies the confirmation topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	fullName := topicResourceName(c.projectID, c.topic)
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", c.topic)
		}
		return fmt.Errorf("checking topic %q: %w", c.topic, err)
	}
	return nil
}

// ConfirmationTopic returns the configured topic id.
func (c *Client) ConfirmationTopic() string {
	return c.topic
}

// Publish sends the message and waits for the server ack.
func (c *Client) Publish(ctx context.Context, topic string, message outbox.Message) error {
	pub, err := c.publisher(topic)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data:       message.Value,
		Attributes: message.Attributes,
	}
	result := pub.Publish(ctx, msg)
	if result == nil {
		return fmt.Errorf("publisher returned nil for topic %s", topic)
	}
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (c *Client) publisher(topic string) (topicPublisher, error) {
	fullName := topicResourceName(c.projectID, topic)
	if fullName == "" {
		return nil, fmt.Errorf("topic %q not configured", topic)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[fullName]; ok {
		return pub, nil
	}
	pub := c.newPublisher(fullName)
	c.publishers[fullName] = pub
	return pub, nil
}

// Close flushes publishers and releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	for name, pub := range c.publishers {
		pub.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func topicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}

type gcpPublisher struct {
	*pubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}

func (p *gcpPublisher) Stop() {
	if p == nil || p.Publisher == nil {
		return
	}
	p.Publisher.Stop()
}
