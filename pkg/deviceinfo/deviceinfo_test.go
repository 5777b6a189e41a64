package deviceinfo

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashsdn/hashsdn-ovsdb/pkg/ovsdb"
)

func TestUpdateDeviceOperData_PopulatesBothMaps(t *testing.T) {
	r := New(0)
	u := ovsdb.NewUUID("aaaa")
	r.UpdateDeviceOperData("PhysicalSwitch", "sw1", &u, "payload-1")

	data, ok, err := r.GetOperData("PhysicalSwitch", "sw1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Available, data.Status)
	assert.Equal(t, "payload-1", data.Payload)
}

func TestMarkAndClearInTransit_PreservesPayload(t *testing.T) {
	r := New(0)
	u := ovsdb.NewUUID("bbbb")
	r.UpdateDeviceOperData("PhysicalSwitch", "sw1", &u, "payload-1")

	r.MarkKeyAsInTransit("PhysicalSwitch", "sw1")
	assert.True(t, r.IsKeyInTransit("PhysicalSwitch", "sw1"))

	r.ClearInTransit("PhysicalSwitch", "sw1")
	data, ok, err := r.GetOperData("PhysicalSwitch", "sw1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Available, data.Status)
	assert.Equal(t, "payload-1", data.Payload)
}

func TestClearInTransit_ErasesWhenNoPayload(t *testing.T) {
	r := New(0)
	r.MarkKeyAsInTransit("PhysicalSwitch", "sw2")
	r.ClearInTransit("PhysicalSwitch", "sw2")
	_, ok, err := r.GetOperData("PhysicalSwitch", "sw2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearDeviceOperDataClass_PreservesInTransitEntries(t *testing.T) {
	r := New(0)
	u1 := ovsdb.NewUUID("u1")
	r.UpdateDeviceOperData("PhysicalPort", "p1", &u1, "a")
	u2 := ovsdb.NewUUID("u2")
	r.UpdateDeviceOperData("PhysicalPort", "p2", &u2, "b")
	r.MarkKeyAsInTransit("PhysicalPort", "p2")

	r.ClearDeviceOperDataClass("PhysicalPort")

	_, ok, _ := r.GetOperData("PhysicalPort", "p1")
	assert.False(t, ok, "non-transit entry should be erased")
	_, ok, _ = r.GetOperData("PhysicalPort", "p2")
	assert.True(t, ok, "in-transit entry must survive bulk clear")
}

// S6 — concurrent decRefCount on the last two referrers of one termination
// point must produce exactly one IN_TRANSIT transition, never two, and the
// tep must end up IN_TRANSIT regardless of decrement order.
func TestDecRefCount_LastReferenceTransitionsIsAtomic(t *testing.T) {
	r := New(0)
	r.IncRefCount("ucast-1", "tep-a")
	r.IncRefCount("ucast-2", "tep-a")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.DecRefCount("PhysicalLocator", "ucast-1", "tep-a") }()
	go func() { defer wg.Done(); r.DecRefCount("PhysicalLocator", "ucast-2", "tep-a") }()
	wg.Wait()

	assert.True(t, r.IsKeyInTransit("PhysicalLocator", "tep-a"))
}

func TestRemoteUcastLifecycle(t *testing.T) {
	r := New(0)
	r.UpdateRemoteUcast("ls1", "ucast1", "tep1", "mac-row")
	r.RemoveRemoteUcast("PhysicalLocator", "ls1", "ucast1", "tep1")
	assert.True(t, r.IsKeyInTransit("PhysicalLocator", "tep1"))
}

func TestClearLogicalSwitchRefs(t *testing.T) {
	r := New(0)
	r.UpdateRemoteUcast("ls1", "ucast1", "tepA", "row-a")
	r.UpdateRemoteMcast("ls1", "mcast1", []string{"tepB", "tepC"}, "row-b")

	r.ClearLogicalSwitchRefs("PhysicalLocator", "ls1")

	assert.True(t, r.IsKeyInTransit("PhysicalLocator", "tepA"))
	assert.True(t, r.IsKeyInTransit("PhysicalLocator", "tepB"))
	assert.True(t, r.IsKeyInTransit("PhysicalLocator", "tepC"))
	assert.True(t, r.IsKeyInTransit("PhysicalLocator", "ls1"))
}

func TestIsInTransitExpired(t *testing.T) {
	r := New(10 * time.Millisecond)
	r.MarkKeyAsInTransit("PhysicalSwitch", "sw1")
	assert.False(t, r.IsInTransitExpired("PhysicalSwitch", "sw1"))
	time.Sleep(20 * time.Millisecond)
	assert.True(t, r.IsInTransitExpired("PhysicalSwitch", "sw1"))
}
