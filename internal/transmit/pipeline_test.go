package transmit

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/emfoursolutions/trakbridge-sub002/internal/cot"
	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
	"github.com/emfoursolutions/trakbridge-sub002/internal/queue"
)

// Covers the whole delivery path at once: a large batch of distinct devices is
// built into events, enqueued through the manager, and transmitted over a
// pipe, with nothing dropped along the way.
func TestLargeBatchDeliveredEndToEnd(t *testing.T) {
	const devices = 300
	logger := zaptest.NewLogger(t)

	qcfg := queue.DefaultConfig()
	qcfg.BatchTimeout = 10 * time.Millisecond
	manager := queue.NewManager(qcfg, queue.DefaultMonitoring(), logger, nil)
	q := manager.CreateQueue(1)

	builder := cot.NewBuilder(10, 50, true, logger)
	positions := make([]model.Position, devices)
	for i := range positions {
		positions[i] = model.Position{
			UID:       fmt.Sprintf("dev-%03d", i),
			Name:      fmt.Sprintf("Device %d", i),
			Lat:       float64(i%170) - 85,
			Lon:       float64(i%350) - 175,
			Timestamp: t0,
		}
	}
	events := builder.Build(context.Background(), positions,
		func(model.Position) string { return "a-f-G" }, 300)
	require.Len(t, events, devices)

	res, err := manager.EnqueueWithReplacement(context.Background(), 1, events)
	require.NoError(t, err)
	require.Equal(t, devices, res.Accepted)
	require.Zero(t, res.Dropped)

	client, server := net.Pipe()
	defer server.Close()

	counted := make(chan int, 1)
	go func() {
		var data []byte
		buf := make([]byte, 4096)
		for {
			n, err := server.Read(buf)
			data = append(data, buf[:n]...)
			if got := bytes.Count(data, []byte("<event ")); got >= devices || err != nil {
				counted <- got
				return
			}
		}
	}()

	w := NewWorker(testServer(), q, testConfig(), logger, nil)
	w.dialFn = func(context.Context) (net.Conn, error) { return client, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	select {
	case got := <-counted:
		assert.Equal(t, devices, got, "every position reaches the destination")
	case <-time.After(10 * time.Second):
		t.Fatal("transmission did not complete")
	}
	cancel()
	<-done

	stats := q.Stats()
	assert.Equal(t, uint64(devices), stats.QueuedTotal)
	assert.Zero(t, stats.DroppedTotal)
	assert.Zero(t, stats.Size)
}
