package page

import (
	"testing"

	"github.com/stretchr/testify/require"

	"buzzdb/storage_engine/buzzdberr"
)

func TestPageIDRoundTrip(t *testing.T) {
	id := NewPageID(7, 12345)
	require.Equal(t, uint16(7), id.SegmentID())
	require.Equal(t, uint64(12345), id.PageWithinSegment())
}

func TestTIDRoundTrip(t *testing.T) {
	tid := NewTID(999, 42)
	require.Equal(t, uint64(999), tid.PageWithinSegment())
	require.Equal(t, uint16(42), tid.SlotID())
}

func TestInitThenFreeSpace(t *testing.T) {
	buf := make([]byte, 4096)
	sp := New(buf)
	sp.Init(NewPageID(1, 0))

	require.Equal(t, uint16(0), sp.SlotCount())
	require.Equal(t, uint16(0), sp.FirstFreeSlot())
	require.EqualValues(t, 4096, sp.DataStart())
	require.EqualValues(t, 4096-HeaderBytes, sp.FreeSpace())
}

func TestAddSlotAndRoundTripPayload(t *testing.T) {
	buf := make([]byte, 4096)
	sp := New(buf)
	sp.Init(NewPageID(1, 0))

	payload := []byte("hello, buzzdb")
	tid, err := sp.AddSlot(uint32(len(payload)))
	require.NoError(t, err)

	copy(sp.Payload(tid.SlotID()), payload)
	require.Equal(t, payload, sp.Payload(tid.SlotID()))

	require.Equal(t, uint16(1), sp.SlotCount())
	require.Equal(t, uint16(1), sp.FirstFreeSlot())

	headerAndSlots := uint32(HeaderBytes) + uint32(sp.SlotCount())*slotBytes
	require.Equal(t, sp.DataStart()-headerAndSlots, sp.FreeSpace())
}

func TestAddSlotFailsWhenOversized(t *testing.T) {
	buf := make([]byte, 64)
	sp := New(buf)
	sp.Init(NewPageID(1, 0))

	_, err := sp.AddSlot(uint32(len(buf)))
	require.Error(t, err)
	require.ErrorIs(t, err, buzzdberr.ErrRecordTooLarge)
}

func TestAddSlotReusesFreedSlot(t *testing.T) {
	buf := make([]byte, 4096)
	sp := New(buf)
	sp.Init(NewPageID(1, 0))

	tid1, err := sp.AddSlot(8)
	require.NoError(t, err)
	_, err = sp.AddSlot(8)
	require.NoError(t, err)

	// Free the first slot and confirm the next AddSlot reuses it.
	sp.SetSlot(tid1.SlotID(), 0)
	sp.setFirstFreeSlot(tid1.SlotID())

	before := sp.SlotCount()
	tid3, err := sp.AddSlot(8)
	require.NoError(t, err)
	require.Equal(t, tid1.SlotID(), tid3.SlotID())
	require.Equal(t, before, sp.SlotCount(), "reusing a free slot must not grow the slot array")
}
