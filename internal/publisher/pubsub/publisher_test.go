package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TestPublisherPublishesJSON publishes to a fake server and reads the stored message back.
func TestPublisherPublishesJSON(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()
	topic, err := client.CreateTopic(ctx, "notes")
	require.NoError(t, err)

	pub := New(topic)
	defer pub.Stop()
	id, err := pub.Publish(ctx, "Meaning", map[string]string{"concept": "gist"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool { return len(srv.Messages()) == 1 }, time.Second, 10*time.Millisecond)
	msg := srv.Messages()[0]
	require.JSONEq(t, `{"concept":"gist"}`, string(msg.Data))
	require.Equal(t, "Meaning", msg.Attributes[KeyAttribute])
}

// TestPublisherRequiresTopic ensures a nil topic is reported.
func TestPublisherRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "", 1)
	require.ErrorContains(t, err, "not configured")
}

// TestAttributeCarrier verifies the carrier round-trips propagation keys.
func TestAttributeCarrier(t *testing.T) {
	t.Parallel()

	c := &attributeCarrier{attrs: map[string]string{}}
	var _ propagation.TextMapCarrier = c
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
