package relay

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vipulgupta28/DrawIt/internal/state"
	"github.com/vipulgupta28/DrawIt/pkg/protocol"
)

func TestScenario_ThreeJoinsThenAbruptClose(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.connect("A"), f.connect("B"), f.connect("C")

	f.send(a, joinMsg("r1"))
	f.send(b, joinMsg("r1"))
	f.send(c, joinMsg("r1"))

	gotA, gotB, gotC := drain(t, a), drain(t, b), drain(t, c)

	// A was asked once for B and once for C; B never donated.
	assert.Len(t, ofType(gotA, protocol.TypeRequestSnapshot), 2)
	assert.Empty(t, ofType(gotB, protocol.TypeRequestSnapshot))
	assert.Empty(t, ofType(gotC, protocol.TypeRequestSnapshot))

	rosters := ofType(gotC, protocol.TypeRoomUsers)
	require.Len(t, rosters, 1)
	assert.Equal(t, []string{"A", "B", "C"}, rosters[0].Users)

	f.hub.disconnect(a, "connection closed")

	for _, conn := range []*state.Conn{b, c} {
		got := drain(t, conn)
		require.Len(t, got, 2, "conn %s", conn.ParticipantID())
		assert.Equal(t, protocol.TypeUserLeft, got[0].Type)
		assert.Equal(t, "r1", got[0].RoomID)
		assert.Equal(t, "A", got[0].UserID)
		assert.Equal(t, protocol.TypeRoomUsers, got[1].Type)
		assert.Equal(t, []string{"B", "C"}, got[1].Users)
	}
	assert.Equal(t, []string{"B", "C"}, f.sm.MembersOf("r1"))
}

func TestJoinConvergence_RosterAfterEachJoin(t *testing.T) {
	for _, order := range [][]string{{"p1", "p2", "p3", "p4"}, {"p4", "p2", "p1", "p3"}} {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			f := newFixture(t)
			var conns []*state.Conn
			requests := 0
			for i, id := range order {
				c := f.connect(id)
				conns = append(conns, c)
				f.send(c, joinMsg("room"))

				for _, member := range conns {
					got := drain(t, member)
					requests += len(ofType(got, protocol.TypeRequestSnapshot))
					rosters := ofType(got, protocol.TypeRoomUsers)
					require.Len(t, rosters, 1)
					assert.Len(t, rosters[0].Users, i+1)
				}
				if i > 0 {
					assert.Equal(t, i, requests, "one snapshot request per later joiner")
				}
			}
			assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, f.sm.MembersOf("room"))
		})
	}
}

func TestJoin_FirstMemberGetsNoDonor(t *testing.T) {
	f := newFixture(t)
	a := f.connect("A")

	f.send(a, joinMsg("r1"))

	got := drain(t, a)
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeRoomUsers, got[0].Type)
	assert.Equal(t, []string{"A"}, got[0].Users)
	assert.Zero(t, f.hub.pendingFor("r1"))
}

func TestJoin_Idempotent(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect("A"), f.connect("B")
	f.send(a, joinMsg("r1"))
	f.send(b, joinMsg("r1"))
	drain(t, a)
	drain(t, b)

	f.send(b, joinMsg("r1"))

	assert.Empty(t, drain(t, a), "no duplicate user_joined")
	assert.Empty(t, drain(t, b))
	assert.Equal(t, []string{"A", "B"}, f.sm.MembersOf("r1"))
	assert.Len(t, f.sm.Members("r1"), 2)
}

func TestJoin_OrderOfNotifications(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect("A"), f.connect("B")
	f.send(a, joinMsg("r1"))
	drain(t, a)

	f.send(b, joinMsg("r1"))

	assert.Equal(t,
		[]protocol.Type{protocol.TypeUserJoined, protocol.TypeRoomUsers, protocol.TypeRequestSnapshot},
		typesOf(drain(t, a)))
	assert.Equal(t, []protocol.Type{protocol.TypeRoomUsers}, typesOf(drain(t, b)))
	assert.Equal(t, 1, f.hub.pendingFor("r1"))
}

func TestLeaveAndCloseAreSymmetric(t *testing.T) {
	setup := func(t *testing.T) (*fixture, *state.Conn, []*state.Conn) {
		f := newFixture(t)
		leaver, b, c := f.connect("L"), f.connect("B"), f.connect("C")
		for _, conn := range []*state.Conn{leaver, b, c} {
			f.send(conn, joinMsg("r1"))
		}
		for _, conn := range []*state.Conn{leaver, b, c} {
			drain(t, conn)
		}
		return f, leaver, []*state.Conn{b, c}
	}

	observe := func(t *testing.T, remaining []*state.Conn) [][]protocol.Envelope {
		var out [][]protocol.Envelope
		for _, conn := range remaining {
			out = append(out, drain(t, conn))
		}
		return out
	}

	f1, leaver1, rest1 := setup(t)
	f1.send(leaver1, leaveMsg("r1"))
	viaLeave := observe(t, rest1)

	f2, leaver2, rest2 := setup(t)
	f2.hub.disconnect(leaver2, "connection closed")
	viaClose := observe(t, rest2)

	assert.Equal(t, viaLeave, viaClose)
	for _, got := range viaLeave {
		require.Len(t, got, 2)
		assert.Equal(t, protocol.TypeUserLeft, got[0].Type)
		assert.Equal(t, "L", got[0].UserID)
		assert.Equal(t, []string{"B", "C"}, got[1].Users)
	}
	assert.Equal(t, f1.sm.MembersOf("r1"), f2.sm.MembersOf("r1"))
}

func TestLeave_NotMemberIsNoop(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect("A"), f.connect("B")
	f.send(a, joinMsg("r1"))
	drain(t, a)

	f.send(b, leaveMsg("r1"))

	assert.Empty(t, drain(t, a))
	assert.Equal(t, []string{"A"}, f.sm.MembersOf("r1"))
}

func TestChat_AllMembersWithSender(t *testing.T) {
	f := newFixture(t)
	a, b, outsider := f.connect("A"), f.connect("B"), f.connect("X")
	f.send(a, joinMsg("r1"))
	f.send(b, joinMsg("r1"))
	drain(t, a)
	drain(t, b)

	f.send(a, map[string]any{"type": "chat", "roomId": "r1", "message": "hello"})

	for _, conn := range []*state.Conn{a, b} {
		got := drain(t, conn)
		require.Len(t, got, 1)
		assert.Equal(t, protocol.TypeChat, got[0].Type)
		assert.JSONEq(t, `"hello"`, string(got[0].Message))
		assert.Equal(t, "A", got[0].UserID)
	}
	assert.Empty(t, drain(t, outsider))
}

func TestCanvasUpdate_ExcludesSender(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.connect("A"), f.connect("B"), f.connect("C")
	for _, conn := range []*state.Conn{a, b, c} {
		f.send(conn, joinMsg("r1"))
	}
	for _, conn := range []*state.Conn{a, b, c} {
		drain(t, conn)
	}

	snapshot := json.RawMessage(`{"shapes":[{"id":1,"x":10}]}`)
	f.send(b, map[string]any{"type": "canvas_update", "roomId": "r1", "snapshot": snapshot})

	assert.Empty(t, drain(t, b))
	for _, conn := range []*state.Conn{a, c} {
		got := drain(t, conn)
		require.Len(t, got, 1)
		assert.Equal(t, protocol.TypeCanvasUpdate, got[0].Type)
		assert.JSONEq(t, string(snapshot), string(got[0].Snapshot))
	}
}

func TestPartialFailureIsolation_FullQueue(t *testing.T) {
	f := newFixtureWithBuffer(t, 4)
	a, b, c := f.connect("A"), f.connect("B"), f.connect("C")
	for _, conn := range []*state.Conn{a, b, c} {
		f.send(conn, joinMsg("r1"))
		drain(t, a)
		drain(t, b)
		drain(t, c)
	}
	require.Zero(t, f.hub.Stats().DroppedDeliveries)
	// B's queue is left full.
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Enqueue([]byte(`{"type":"noise"}`)))
	}

	f.send(c, map[string]any{"type": "canvas_update", "roomId": "r1", "snapshot": []int{1}})

	assert.Len(t, ofType(drain(t, a), protocol.TypeCanvasUpdate), 1)
	assert.Empty(t, ofType(drain(t, b), protocol.TypeCanvasUpdate))
	assert.EqualValues(t, 1, f.hub.Stats().DroppedDeliveries)
}

func TestCanvasSnapshot_ForwardedToPendingJoinerOnly(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.connect("A"), f.connect("B"), f.connect("C")
	f.send(a, joinMsg("r1"))
	f.send(b, joinMsg("r1"))
	for _, conn := range []*state.Conn{a, b} {
		drain(t, conn)
	}
	f.send(c, joinMsg("r1"))
	for _, conn := range []*state.Conn{a, b, c} {
		drain(t, conn)
	}
	require.Equal(t, 2, f.hub.pendingFor("r1"))

	f.send(a, map[string]any{"type": "canvas_snapshot", "roomId": "r1", "snapshot": map[string]any{"v": 3}})

	assert.Empty(t, drain(t, a))
	for _, conn := range []*state.Conn{b, c} {
		got := drain(t, conn)
		require.Len(t, got, 1)
		assert.Equal(t, protocol.TypeCanvasSnapshot, got[0].Type)
		assert.JSONEq(t, `{"v":3}`, string(got[0].Snapshot))
	}
	assert.Zero(t, f.hub.pendingFor("r1"))

	// A second, unsolicited snapshot goes nowhere.
	f.send(a, map[string]any{"type": "canvas_snapshot", "roomId": "r1", "snapshot": map[string]any{"v": 4}})
	for _, conn := range []*state.Conn{a, b, c} {
		assert.Empty(t, drain(t, conn))
	}
}

func TestCanvasSnapshot_JoinerLeftBeforeSnapshot(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect("A"), f.connect("B")
	f.send(a, joinMsg("r1"))
	f.send(b, joinMsg("r1"))
	require.Equal(t, 1, f.hub.pendingFor("r1"))

	f.hub.disconnect(b, "connection closed")
	assert.Zero(t, f.hub.pendingFor("r1"))
	drain(t, a)

	f.send(a, map[string]any{"type": "canvas_snapshot", "roomId": "r1", "snapshot": "late"})
	assert.Empty(t, drain(t, a))
}

func TestJoin_DonorUnreachableDropsPending(t *testing.T) {
	f := newFixtureWithBuffer(t, 2)
	a, b := f.connect("A"), f.connect("B")
	f.send(a, joinMsg("r1"))
	drain(t, a)
	// Leave room for user_joined only.
	require.NoError(t, a.Enqueue([]byte(`{}`)))

	f.send(b, joinMsg("r1"))

	assert.Zero(t, f.hub.pendingFor("r1"))
	assert.Empty(t, ofType(drain(t, a), protocol.TypeRequestSnapshot))
	assert.Equal(t, []string{"A", "B"}, f.sm.MembersOf("r1"))
}

func TestGetRoomUsers_SenderOnly(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect("A"), f.connect("B")
	f.send(a, joinMsg("r1"))
	drain(t, a)

	f.send(b, map[string]any{"type": "get_room_users", "roomId": "r1"})

	got := drain(t, b)
	require.Len(t, got, 1)
	assert.Equal(t, protocol.TypeRoomUsers, got[0].Type)
	assert.Equal(t, []string{"A"}, got[0].Users)
	assert.Empty(t, drain(t, a))

	f.send(b, map[string]any{"type": "get_room_users", "roomId": "empty"})
	got = drain(t, b)
	require.Len(t, got, 1)
	assert.NotNil(t, got[0].Users)
}

func TestProtocolErrorsAreDropped(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect("A"), f.connect("B")
	f.send(a, joinMsg("r1"))
	drain(t, a)

	for _, raw := range []string{
		`garbage`,
		`{"type":"teleport","roomId":"r1"}`,
		`{"type":"join_room"}`,
		`{"type":"canvas_update","roomId":"r1"}`,
		`{"type":"chat","roomId":"r1"}`,
		`{"type":"request_snapshot","roomId":"r1"}`,
	} {
		f.sendRaw(a, raw)
	}
	// B is not a member of r1.
	f.sendRaw(b, `{"type":"chat","roomId":"r1","message":"sneaky"}`)
	f.sendRaw(b, `{"type":"canvas_update","roomId":"r1","snapshot":{}}`)
	f.sendRaw(b, `{"type":"canvas_snapshot","roomId":"r1","snapshot":{}}`)

	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, b))
	assert.False(t, a.Closed())
	assert.False(t, b.Closed())

	stats := f.hub.Stats()
	assert.EqualValues(t, 9, stats.DroppedMessages)
	assert.EqualValues(t, 1, stats.RoutedMessages)
}

func TestMultiTab_EveryConnectionIsAnnounced(t *testing.T) {
	f := newFixture(t)
	tab1, b := f.connect("A"), f.connect("B")
	f.send(tab1, joinMsg("r1"))
	f.send(b, joinMsg("r1"))
	drain(t, tab1)
	drain(t, b)

	tab2 := f.connect("A")
	f.send(tab2, joinMsg("r1"))

	got := drain(t, b)
	assert.Equal(t, []protocol.Type{protocol.TypeUserJoined, protocol.TypeRoomUsers}, typesOf(got))
	assert.Equal(t, "A", got[0].UserID)
	assert.Equal(t, []string{"A", "B"}, got[1].Users)
	assert.Equal(t, []protocol.Type{protocol.TypeUserJoined, protocol.TypeRoomUsers, protocol.TypeRequestSnapshot}, typesOf(drain(t, tab1)))
	drain(t, tab2)

	f.send(tab2, leaveMsg("r1"))

	got = drain(t, b)
	assert.Equal(t, []protocol.Type{protocol.TypeUserLeft, protocol.TypeRoomUsers}, typesOf(got))
	assert.Equal(t, "A", got[0].UserID)
	assert.Equal(t, []string{"A", "B"}, got[1].Users, "A is still present through tab1")
	drain(t, tab1)

	f.hub.disconnect(tab1, "connection closed")

	got = drain(t, b)
	assert.Equal(t, []protocol.Type{protocol.TypeUserLeft, protocol.TypeRoomUsers}, typesOf(got))
	assert.Equal(t, []string{"B"}, got[1].Users)
}

func TestDisconnect_IdempotentAndClosesTransport(t *testing.T) {
	f := newFixture(t)
	a := f.connect("A")
	f.send(a, joinMsg("r1"))
	mt := a.Transport().(*mockTransport)

	f.hub.disconnect(a, protocol.ReasonPingTimeout)
	f.hub.disconnect(a, "again")

	waitFor(t, mt.isClosed, "transport closed")
	code, reason := mt.closeInfo()
	assert.Equal(t, protocol.CloseGoingAway, code)
	assert.Equal(t, protocol.ReasonPingTimeout, reason)
	assert.Zero(t, f.sm.Len())
	assert.Empty(t, f.sm.RoomSizes())

	// Messages from a removed connection are ignored.
	f.send(a, joinMsg("r1"))
	assert.Empty(t, f.sm.RoomSizes())
}
