// Package objectstore_test tests the object store implementations.
package objectstore_test

import (
	"context"
	"testing"

	"github.com/book-expert/speakbot/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func TestNatsObjectStore_UploadDownloadDelete(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.NewNats(jetstreamContext, "test-audio")
	require.NoError(t, err)

	ctx := context.Background()
	key := "b7d0e2c9.ogg"
	uploadData := []byte("hello world, this is synthesized audio")

	require.NoError(t, store.Upload(ctx, key, uploadData))

	downloadData, err := store.Download(ctx, key)
	require.NoError(t, err)
	require.Equal(t, uploadData, downloadData)

	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Download(ctx, key)
	require.Error(t, err)

	require.NoError(t, store.Delete(ctx, key), "deleting a missing object is harmless")
}

func TestNatsObjectStore_BindsToExistingBucket(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	first, err := objectstore.NewNats(jetstreamContext, "shared-audio")
	require.NoError(t, err)
	require.NoError(t, first.Upload(context.Background(), "kept", []byte("data")))

	second, err := objectstore.NewNats(jetstreamContext, "shared-audio")
	require.NoError(t, err)

	data, err := second.Download(context.Background(), "kept")
	require.NoError(t, err)
	require.Equal(t, []byte("data"), data)
}
