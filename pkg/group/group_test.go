package group_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cobaltmesh/ucg/pkg/group"
	"github.com/cobaltmesh/ucg/pkg/host"
	"github.com/cobaltmesh/ucg/pkg/transport"
)

type fakeHost struct{}

func (fakeHost) Reduce(op host.Op, src, dst []byte, count int, dtype host.Datatype) error { return nil }
func (fakeHost) OpIsCommutative(op host.Op) bool                                          { return true }
func (fakeHost) DatatypeIsPredefined(dtype host.Datatype) bool                            { return true }
func (fakeHost) DatatypeSpan(dtype host.Datatype, count int) (int, int)                   { return count, 0 }
func (fakeHost) RankDistance(groupID uint16, i, j int) host.Distance                       { return host.DistNet }

type fakeEndpoint struct{ id int }

func (fakeEndpoint) SendShort(amID uint8, header uint64, payload []byte) error { return nil }
func (fakeEndpoint) SendBcopy(amID uint8, header uint64, length int, pack func([]byte) int, cb transport.CompletionFunc) error {
	return nil
}
func (fakeEndpoint) SendZcopy(amID uint8, header uint64, buf []byte, mh transport.MemoryHandle, cb transport.CompletionFunc) error {
	return nil
}
func (fakeEndpoint) MemoryDomain() transport.MemoryDomain { return nil }

type fakeWorker struct{ connects int }

func (w *fakeWorker) Connect(ctx context.Context, memberIndex int, resolver transport.AddressResolver) (transport.Endpoint, error) {
	w.connects++
	return &fakeEndpoint{id: memberIndex}, nil
}
func (w *fakeWorker) RegisterAMHandler(baseID uint8, handler transport.AMHandler) {}
func (w *fakeWorker) Progress(ctx context.Context) int                           { return 0 }

type fakeResolver struct{}

func (fakeResolver) ResolveAddress(memberIndex int) ([]byte, error) { return nil, nil }
func (fakeResolver) ReleaseAddress(addr []byte)                     {}

type fakeOccupant struct {
	collID  uint8
	step    uint8
	delivered [][]byte
}

func (o *fakeOccupant) CollID() uint8            { return o.collID }
func (o *fakeOccupant) CurrentStepIndex() uint8  { return o.step }
func (o *fakeOccupant) Deliver(offset uint32, payload []byte) bool {
	o.delivered = append(o.delivered, payload)
	return true
}

func openTestGroup(t *testing.T, windowSize int) *group.Group {
	t.Helper()
	g, err := group.Open(group.Params{
		ID:              7,
		MemberCount:     4,
		MemberIndex:     1,
		ProtocolVersion: "1.2.0",
		WindowSize:      windowSize,
	}, &fakeWorker{}, fakeResolver{}, fakeHost{})
	require.NoError(t, err)
	return g
}

func TestOpenValidatesMemberIndex(t *testing.T) {
	_, err := group.Open(group.Params{MemberCount: 4, MemberIndex: 4}, &fakeWorker{}, fakeResolver{}, fakeHost{})
	require.Error(t, err)
}

func TestOpenRejectsUnsupportedProtocolVersion(t *testing.T) {
	_, err := group.Open(group.Params{
		MemberCount:     4,
		MemberIndex:     0,
		ProtocolVersion: "2.0.0",
	}, &fakeWorker{}, fakeResolver{}, fakeHost{})
	require.Error(t, err)
}

func TestOpenDefaultsWindowSize(t *testing.T) {
	g := openTestGroup(t, 0)
	require.Equal(t, 16, g.WindowSize())
}

func TestConnectCachesEndpoint(t *testing.T) {
	w := &fakeWorker{}
	g, err := group.Open(group.Params{MemberCount: 4, MemberIndex: 0, WindowSize: 4}, w, fakeResolver{}, fakeHost{})
	require.NoError(t, err)

	ep1, err := g.Connect(context.Background(), 2)
	require.NoError(t, err)
	ep2, err := g.Connect(context.Background(), 2)
	require.NoError(t, err)
	require.Same(t, ep1, ep2)
	require.Equal(t, 1, w.connects)
}

func TestConnectRejectsOutOfRangePeer(t *testing.T) {
	g := openTestGroup(t, 4)
	_, err := g.Connect(context.Background(), 99)
	require.Error(t, err)
}

func TestAcquireSlotRejectsDoubleBooking(t *testing.T) {
	g := openTestGroup(t, 4)
	occA := &fakeOccupant{collID: 2, step: 0}
	occB := &fakeOccupant{collID: 6, step: 0} // 6 mod 4 == 2, same slot as collID 2

	require.NoError(t, g.AcquireSlot(2, occA))
	err := g.AcquireSlot(6, occB)
	require.Error(t, err)

	g.ReleaseSlot(2)
	require.NoError(t, g.AcquireSlot(6, occB))
}

func TestDeliverMatchesActiveOccupant(t *testing.T) {
	g := openTestGroup(t, 4)
	occ := &fakeOccupant{collID: 1, step: 3}
	require.NoError(t, g.AcquireSlot(1, occ))

	matched, early, done := g.Deliver(1, 3, 0, []byte("payload"))
	require.True(t, matched)
	require.False(t, early)
	require.True(t, done)
	require.Equal(t, [][]byte{[]byte("payload")}, occ.delivered)
}

func TestDeliverParksEarlyArrival(t *testing.T) {
	g := openTestGroup(t, 4)
	occ := &fakeOccupant{collID: 1, step: 2}
	require.NoError(t, g.AcquireSlot(1, occ))

	matched, early, _ := g.Deliver(1, 5, 16, []byte("ahead"))
	require.False(t, matched)
	require.True(t, early)

	drained := g.DrainEarly(1, 5)
	require.Len(t, drained, 1)
	require.Equal(t, uint32(16), drained[0].Offset)
}

func TestDeliverDropsStaleCollID(t *testing.T) {
	g := openTestGroup(t, 4)
	occ := &fakeOccupant{collID: 9, step: 0}
	require.NoError(t, g.AcquireSlot(9, occ))

	matched, early, _ := g.Deliver(1, 0, 0, []byte("stale"))
	require.False(t, matched)
	require.False(t, early)
}

func TestOnCloseRunsHooksOnce(t *testing.T) {
	g := openTestGroup(t, 4)
	calls := 0
	g.OnClose(func() { calls++ })
	g.OnClose(func() { calls++ })

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	require.Equal(t, 2, calls)
}
