package depqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashsdn/hashsdn-ovsdb/pkg/deviceinfo"
	"github.com/hashsdn/hashsdn-ovsdb/pkg/ovsdb"
)

// S5 — a job waiting on an oper-side dependency stays queued until that
// dependency arrives, then runs exactly once.
func TestDependencyQueue_ReplaysOnOperDataArrival(t *testing.T) {
	registry := deviceinfo.New(0)
	q := New(16)
	defer q.Close()

	var ran int32
	var mu sync.Mutex
	q.AddToQueue(&DependentJob{
		WaitingOnOper: []DepKey{{Class: "PhysicalSwitch", Key: "sw1"}},
		Run: func(r *deviceinfo.Registry) {
			mu.Lock()
			ran++
			mu.Unlock()
		},
	})
	assert.Equal(t, 1, q.Len())

	q.ProcessReadyJobsFromOpQueue(registry)
	mu.Lock()
	assert.Equal(t, int32(0), ran, "job must not run before its dependency exists")
	mu.Unlock()
	assert.Equal(t, 1, q.Len())

	u := ovsdb.NewUUID("uuid-1")
	registry.UpdateDeviceOperData("PhysicalSwitch", "sw1", &u, "payload")
	q.ProcessReadyJobsFromOpQueue(registry)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran == 1
	}, time.Second, time.Millisecond, "job should have run exactly once")
	assert.Equal(t, 0, q.Len())
}

// A dependency that is IN_TRANSIT but not yet expired keeps the job queued;
// once expired, the job becomes ready even without new data arriving.
func TestDependencyQueue_InTransitBlocksUntilExpiry(t *testing.T) {
	registry := deviceinfo.New(5 * time.Millisecond)
	q := New(16)
	defer q.Close()

	registry.MarkKeyAsInTransit("PhysicalPort", "p1")

	done := make(chan struct{})
	q.AddToQueue(&DependentJob{
		WaitingOnOper: []DepKey{{Class: "PhysicalPort", Key: "p1"}},
		Run:           func(r *deviceinfo.Registry) { close(done) },
	})

	q.ProcessReadyJobsFromOpQueue(registry)
	select {
	case <-done:
		t.Fatal("job ran while dependency still IN_TRANSIT and unexpired")
	case <-time.After(10 * time.Millisecond):
	}

	time.Sleep(20 * time.Millisecond)
	q.ProcessReadyJobsFromOpQueue(registry)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran after dependency's transit expired")
	}
}

func TestDependencyQueue_CloseStopsFurtherRuns(t *testing.T) {
	q := New(4)
	q.Close()
	q.Close() // idempotent

	ran := false
	q.Submit(func() { ran = true })
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran)
}
