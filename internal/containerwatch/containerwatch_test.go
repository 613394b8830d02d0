package containerwatch

import (
	"sync"
	"testing"
	"time"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestWatchCoalescesBurstsPerConfig(t *testing.T) {
	var w = NewWatchWithPolicy(16, 200*time.Millisecond, DefaultMaxUpdates, 20*time.Millisecond)
	var mu sync.Mutex
	var received []protocol.ContainerUpdate
	w.Subscribe(func(u protocol.ContainerUpdate) {
		mu.Lock()
		received = append(received, u)
		mu.Unlock()
	})

	go w.Run()

	require.Equal(t, protocol.Accepted, w.Push(protocol.ContainerUpdate{ConfigName: "app", Params: protocol.ContainerParams{ContainerID: "c1"}}))
	require.Equal(t, protocol.Accepted, w.Push(protocol.ContainerUpdate{ConfigName: "app", Params: protocol.ContainerParams{ContainerID: "c2"}}))
	require.Equal(t, protocol.Accepted, w.Push(protocol.ContainerUpdate{ConfigName: "app", Params: protocol.ContainerParams{ContainerID: "c3"}}))

	time.Sleep(60 * time.Millisecond)
	w.Close()
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, "c3", received[0].Params.ContainerID, "coalescing should keep only the latest update per config")
}

func TestWatchPushRejectsWhenFull(t *testing.T) {
	var w = NewWatch(1)
	require.Equal(t, protocol.Accepted, w.Push(protocol.ContainerUpdate{ConfigName: "a"}))
	require.Equal(t, protocol.RejectedFull, w.Push(protocol.ContainerUpdate{ConfigName: "b"}))
}
