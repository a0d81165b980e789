package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	c := &Client{projectID: "demo"}
	require.Equal(t, "projects/demo/topics/events", c.topicResourceName(" events "))
	require.Equal(t, "projects/other/topics/x", c.topicResourceName("projects/other/topics/x"))
	require.Empty(t, c.topicResourceName(""))
	require.Empty(t, (&Client{}).topicResourceName("events"))

	var nilClient *Client
	require.Empty(t, nilClient.topicResourceName("events"))
	require.Nil(t, nilClient.Publisher("events"))
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{ProjectID: "  "}, config.PubSubConfig{DomainTopic: "t"}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)
}

func TestUninitializedClient(t *testing.T) {
	var c *Client
	require.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
	require.NoError(t, c.Close())
	require.ErrorIs(t, (&Client{}).Ping(context.Background()), errNotInitialized)
	require.ErrorIs(t, (&Client{}).EnsureTopics(context.Background(), "a"), errNotInitialized)
}
