package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// fakeStore is an in-memory Store with per-operation failure toggles.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64

	failMint      bool
	failJoins     bool
	failLeaves    bool
	failQuestions bool
	failReplies   bool
	failScores    bool
	failRenames   bool

	scores    map[[2]int64]int
	leaves    [][2]int64
	questions []string
	replies   []string
	renames   map[int64]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		scores:  make(map[[2]int64]int),
		renames: make(map[int64]string),
	}
}

var errStoreDown = errors.New("store down")

func (s *fakeStore) AddUser(_ context.Context) (UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMint {
		return UserIdentity{}, errStoreDown
	}
	s.nextID++
	return UserIdentity{ID: s.nextID, Username: fmt.Sprintf("Player_%d", s.nextID)}, nil
}

func (s *fakeStore) JoinRoom(_ context.Context, userID, roomID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failJoins {
		return 0, errStoreDown
	}
	return s.scores[[2]int64{userID, roomID}], nil
}

func (s *fakeStore) LeaveRoom(_ context.Context, userID, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLeaves {
		return errStoreDown
	}
	s.leaves = append(s.leaves, [2]int64{userID, roomID})
	return nil
}

func (s *fakeStore) PostQuestion(_ context.Context, _, _ int64, text string) (Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failQuestions {
		return Question{}, errStoreDown
	}
	s.questions = append(s.questions, text)
	return Question{ID: int64(len(s.questions)), Text: text}, nil
}

func (s *fakeStore) PostReply(_ context.Context, _, _, _ int64, text string) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReplies {
		return Reply{}, errStoreDown
	}
	s.replies = append(s.replies, text)
	return Reply{ID: int64(len(s.replies)), Text: text}, nil
}

func (s *fakeStore) AddScore(_ context.Context, userID, roomID int64, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failScores {
		return 0, errStoreDown
	}
	key := [2]int64{userID, roomID}
	s.scores[key] += delta
	return s.scores[key], nil
}

func (s *fakeStore) ChangeUsername(_ context.Context, userID int64, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRenames {
		return "", errStoreDown
	}
	s.renames[userID] = username
	return username, nil
}

func newTestCoordinator(store Store) *Coordinator {
	return NewCoordinator(store, time.Second, 64, zap.NewNop())
}

// recvEnvelope pops the next queued frame from o and decodes it as an
// Envelope. Handlers enqueue synchronously, so the frame must already be
// there.
func recvEnvelope(t *testing.T, o *Outbox) Envelope {
	t.Helper()
	select {
	case data := <-o.Frames():
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	default:
		t.Fatal("no frame queued")
		return Envelope{}
	}
}

func recvSnapshot(t *testing.T, o *Outbox) Snapshot {
	t.Helper()
	select {
	case data := <-o.Frames():
		var snap Snapshot
		require.NoError(t, json.Unmarshal(data, &snap))
		require.Equal(t, EnvelopeSnapshot, snap.Kind)
		return snap
	default:
		t.Fatal("no frame queued")
		return Snapshot{}
	}
}

func drainOutbox(o *Outbox) {
	for {
		select {
		case <-o.Frames():
		default:
			return
		}
	}
}

func mustConnect(t *testing.T, c *Coordinator, connID string) *Session {
	t.Helper()
	sess, err := c.Connect(context.Background(), connID)
	require.NoError(t, err)
	greeting := recvEnvelope(t, sess.Outbox)
	require.Equal(t, EnvelopeStatus, greeting.Kind)
	require.Equal(t, "connected to server", greeting.Text)
	return sess
}

func dispatch(c *Coordinator, connID, payload string) {
	c.Dispatch(context.Background(), connID, []byte(payload))
}

func joinRoom(t *testing.T, c *Coordinator, connID string, roomID int64) {
	t.Helper()
	dispatch(c, connID, fmt.Sprintf(`{"type":"room_init","user_id":1,"room_id":%d}`, roomID))
}

func TestConnectGreetsAndRegisters(t *testing.T) {
	c := newTestCoordinator(newFakeStore())

	sess := mustConnect(t, c, "conn-a")
	assert.Equal(t, int64(1), sess.UserID)
	assert.Equal(t, "Player_1", sess.Username)
	assert.True(t, c.HasSession("conn-a"))
	assert.Equal(t, 1, c.SessionCount())
}

func TestConnectRejectsDuplicateConnID(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	mustConnect(t, c, "conn-a")

	_, err := c.Connect(context.Background(), "conn-a")
	require.Error(t, err)
	assert.Equal(t, 1, c.SessionCount())
}

func TestDispatchInvalidFrame(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	sess := mustConnect(t, c, "conn-a")

	dispatch(c, "conn-a", `not json at all`)

	env := recvEnvelope(t, sess.Outbox)
	assert.Equal(t, EnvelopeError, env.Kind)
	assert.Equal(t, CodeInvalidMessage, env.Code)
	assert.Equal(t, "Invalid message", env.Text)
	assert.Equal(t, 0, c.RoomCount())
}

func TestRoomInitCreatesRoomAndReturnsSnapshot(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	sess := mustConnect(t, c, "conn-a")

	joinRoom(t, c, "conn-a", 42)

	snap := recvSnapshot(t, sess.Outbox)
	assert.Equal(t, int64(42), snap.RoomID)
	assert.Nil(t, snap.Host)
	require.Len(t, snap.Connections, 1)
	assert.Equal(t, "Player_1", snap.Connections[0].Username)
	assert.Equal(t, 0, snap.Connections[0].Score)
	assert.Equal(t, 1, c.RoomCount())
	assert.True(t, c.IsMember("conn-a", 42))
}

func TestRoomInitIsIdempotent(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	a := mustConnect(t, c, "conn-a")
	b := mustConnect(t, c, "conn-b")
	joinRoom(t, c, "conn-a", 42)
	joinRoom(t, c, "conn-b", 42)
	drainOutbox(a.Outbox)
	drainOutbox(b.Outbox)

	// Repeat join: caller still gets a snapshot, membership does not
	// duplicate, and peers get no second connect notice.
	joinRoom(t, c, "conn-a", 42)

	snap := recvSnapshot(t, a.Outbox)
	assert.Len(t, snap.Connections, 2)
	select {
	case data := <-b.Outbox.Frames():
		t.Fatalf("unexpected frame to peer: %s", data)
	default:
	}
}

func TestRoomInitNotifiesExistingMembers(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	a := mustConnect(t, c, "conn-a")
	joinRoom(t, c, "conn-a", 42)
	drainOutbox(a.Outbox)

	b := mustConnect(t, c, "conn-b")
	joinRoom(t, c, "conn-b", 42)

	notice := recvEnvelope(t, a.Outbox)
	assert.Equal(t, EnvelopeNotice, notice.Kind)
	assert.Equal(t, "Player_2 connected", notice.Text)

	snap := recvSnapshot(t, b.Outbox)
	assert.Len(t, snap.Connections, 2)
}

func TestClaimHost(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	a := mustConnect(t, c, "conn-a")
	b := mustConnect(t, c, "conn-b")
	joinRoom(t, c, "conn-a", 42)
	joinRoom(t, c, "conn-b", 42)
	drainOutbox(a.Outbox)
	drainOutbox(b.Outbox)

	dispatch(c, "conn-a", `{"type":"claim_host","user_id":1,"room_id":42}`)

	ack := recvEnvelope(t, a.Outbox)
	assert.Equal(t, EnvelopeStatus, ack.Kind)
	assert.Equal(t, "ok", ack.Text)

	notice := recvEnvelope(t, b.Outbox)
	assert.Equal(t, "Host claimed by: Player_1", notice.Text)

	host, ok := c.HostOf(42)
	require.True(t, ok)
	assert.Equal(t, "conn-a", host)
}

func TestClaimHostAlreadyClaimed(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	a := mustConnect(t, c, "conn-a")
	b := mustConnect(t, c, "conn-b")
	joinRoom(t, c, "conn-a", 42)
	joinRoom(t, c, "conn-b", 42)
	dispatch(c, "conn-a", `{"type":"claim_host","user_id":1,"room_id":42}`)
	drainOutbox(a.Outbox)
	drainOutbox(b.Outbox)

	dispatch(c, "conn-b", `{"type":"claim_host","user_id":2,"room_id":42}`)

	env := recvEnvelope(t, b.Outbox)
	assert.Equal(t, EnvelopeError, env.Kind)
	assert.Equal(t, CodeHostClaimed, env.Code)
	assert.Equal(t, "Host already claimed", env.Text)

	host, _ := c.HostOf(42)
	assert.Equal(t, "conn-a", host)
}

func TestClaimHostRequiresMembership(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	a := mustConnect(t, c, "conn-a")

	dispatch(c, "conn-a", `{"type":"claim_host","user_id":1,"room_id":42}`)

	env := recvEnvelope(t, a.Outbox)
	assert.Equal(t, CodeNotInRoom, env.Code)
	assert.Equal(t, "Invalid room selection", env.Text)
	_, ok := c.HostOf(42)
	assert.False(t, ok)
}

func TestPostQuestion(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)
	a := mustConnect(t, c, "conn-a")
	b := mustConnect(t, c, "conn-b")
	joinRoom(t, c, "conn-a", 42)
	joinRoom(t, c, "conn-b", 42)
	dispatch(c, "conn-a", `{"type":"claim_host","user_id":1,"room_id":42}`)
	drainOutbox(a.Outbox)
	drainOutbox(b.Outbox)

	dispatch(c, "conn-a", `{"type":"post_question","user_id":1,"room_id":42,"text":"best snack"}`)

	notice := recvEnvelope(t, b.Outbox)
	assert.Equal(t, EnvelopeNotice, notice.Kind)
	assert.Equal(t, "Host Player_1 prompted:\n  best snack.", notice.Text)

	ack := recvEnvelope(t, a.Outbox)
	assert.Equal(t, "question posted.", ack.Text)
	assert.Equal(t, []string{"best snack"}, store.questions)
}

func TestPostQuestionRequiresHost(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	a := mustConnect(t, c, "conn-a")
	b := mustConnect(t, c, "conn-b")
	joinRoom(t, c, "conn-a", 42)
	joinRoom(t, c, "conn-b", 42)
	dispatch(c, "conn-a", `{"type":"claim_host","user_id":1,"room_id":42}`)
	drainOutbox(a.Outbox)
	drainOutbox(b.Outbox)

	dispatch(c, "conn-b", `{"type":"post_question","user_id":2,"room_id":42,"text":"hm"}`)

	env := recvEnvelope(t, b.Outbox)
	assert.Equal(t, CodeNotHost, env.Code)
	assert.Equal(t, "Not host.", env.Text)
}

func TestPostResponseGoesToHostOnly(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)
	a := mustConnect(t, c, "conn-a")
	b := mustConnect(t, c, "conn-b")
	x := mustConnect(t, c, "conn-x")
	joinRoom(t, c, "conn-a", 42)
	joinRoom(t, c, "conn-b", 42)
	joinRoom(t, c, "conn-x", 42)
	dispatch(c, "conn-a", `{"type":"claim_host","user_id":1,"room_id":42}`)
	drainOutbox(a.Outbox)
	drainOutbox(b.Outbox)
	drainOutbox(x.Outbox)

	dispatch(c, "conn-b", `{"type":"post_response","user_id":2,"room_id":42,"question_id":1,"text":"pretzels"}`)

	notice := recvEnvelope(t, a.Outbox)
	assert.Equal(t, "Reply from Player_2:\n  pretzels", notice.Text)

	ack := recvEnvelope(t, b.Outbox)
	assert.Equal(t, "sent response.", ack.Text)

	// The reply is private to the host.
	select {
	case data := <-x.Outbox.Frames():
		t.Fatalf("reply leaked to non-host member: %s", data)
	default:
	}
	assert.Equal(t, []string{"pretzels"}, store.replies)
}

func TestPostResponseRejectedForHost(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	a := mustConnect(t, c, "conn-a")
	joinRoom(t, c, "conn-a", 42)
	dispatch(c, "conn-a", `{"type":"claim_host","user_id":1,"room_id":42}`)
	drainOutbox(a.Outbox)

	dispatch(c, "conn-a", `{"type":"post_response","user_id":1,"room_id":42,"question_id":1,"text":"me"}`)

	env := recvEnvelope(t, a.Outbox)
	assert.Equal(t, CodeIsHost, env.Code)
	assert.Equal(t, "Can't send as host.", env.Text)
}

func TestPostResponseWithoutHost(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	a := mustConnect(t, c, "conn-a")
	joinRoom(t, c, "conn-a", 42)
	drainOutbox(a.Outbox)

	dispatch(c, "conn-a", `{"type":"post_response","user_id":1,"room_id":42,"question_id":1,"text":"hello"}`)

	env := recvEnvelope(t, a.Outbox)
	assert.Equal(t, CodeNoHost, env.Code)
	assert.Equal(t, "Game will start when host is claimed", env.Text)
}

func TestChooseResponseAwardsAuthor(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)
	a := mustConnect(t, c, "conn-a")
	b := mustConnect(t, c, "conn-b")
	joinRoom(t, c, "conn-a", 42)
	joinRoom(t, c, "conn-b", 42)
	dispatch(c, "conn-a", `{"type":"claim_host","user_id":1,"room_id":42}`)
	dispatch(c, "conn-b", `{"type":"post_response","user_id":2,"room_id":42,"question_id":1,"text":"pretzels"}`)
	drainOutbox(a.Outbox)
	drainOutbox(b.Outbox)

	dispatch(c, "conn-a", `{"type":"choose_response","user_id":1,"room_id":42,"text":"pretzels"}`)

	notice := recvEnvelope(t, b.Outbox)
	assert.Equal(t, "Host Player_1 selected: pretzels", notice.Text)

	ack := recvEnvelope(t, a.Outbox)
	assert.Equal(t, "response chosen.", ack.Text)

	score, ok := c.ScoreOf("conn-b", 42)
	require.True(t, ok)
	assert.Equal(t, 1, score)
	assert.Equal(t, 1, store.scores[[2]int64{2, 42}])
}

func TestChooseResponseUnmatchedText(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)
	a := mustConnect(t, c, "conn-a")
	b := mustConnect(t, c, "conn-b")
	joinRoom(t, c, "conn-a", 42)
	joinRoom(t, c, "conn-b", 42)
	dispatch(c, "conn-a", `{"type":"claim_host","user_id":1,"room_id":42}`)
	drainOutbox(a.Outbox)
	drainOutbox(b.Outbox)

	dispatch(c, "conn-a", `{"type":"choose_response","user_id":1,"room_id":42,"text":"nobody said this"}`)

	notice := recvEnvelope(t, b.Outbox)
	assert.Equal(t, "Host Player_1 selected: nobody said this", notice.Text)

	score, _ := c.ScoreOf("conn-b", 42)
	assert.Equal(t, 0, score)
	assert.Empty(t, store.scores)
}

func TestChooseResponseClearsRound(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	a := mustConnect(t, c, "conn-a")
	b := mustConnect(t, c, "conn-b")
	joinRoom(t, c, "conn-a", 42)
	joinRoom(t, c, "conn-b", 42)
	dispatch(c, "conn-a", `{"type":"claim_host","user_id":1,"room_id":42}`)
	dispatch(c, "conn-b", `{"type":"post_response","user_id":2,"room_id":42,"question_id":1,"text":"pretzels"}`)
	dispatch(c, "conn-a", `{"type":"choose_response","user_id":1,"room_id":42,"text":"pretzels"}`)
	drainOutbox(a.Outbox)
	drainOutbox(b.Outbox)

	// Same text again: round record was cleared, no second award.
	dispatch(c, "conn-a", `{"type":"choose_response","user_id":1,"room_id":42,"text":"pretzels"}`)

	score, _ := c.ScoreOf("conn-b", 42)
	assert.Equal(t, 1, score)
}

func TestChangeUsername(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)
	a := mustConnect(t, c, "conn-a")
	b := mustConnect(t, c, "conn-b")
	joinRoom(t, c, "conn-a", 42)
	joinRoom(t, c, "conn-b", 42)
	drainOutbox(a.Outbox)
	drainOutbox(b.Outbox)

	dispatch(c, "conn-a", `{"type":"change_username","user_id":1,"text":"Morgan"}`)

	notice := recvEnvelope(t, b.Outbox)
	assert.Equal(t, "Player_1 changed name to Morgan", notice.Text)

	ack := recvEnvelope(t, a.Outbox)
	assert.Equal(t, EnvelopeStatus, ack.Kind)
	assert.Equal(t, "ok", ack.Text)

	// Exactly one ack.
	select {
	case data := <-a.Outbox.Frames():
		t.Fatalf("unexpected extra frame: %s", data)
	default:
	}
	assert.Equal(t, "Morgan", store.renames[1])

	// Snapshots resolve the new name immediately.
	joinRoom(t, c, "conn-b", 42)
	snap := recvSnapshot(t, b.Outbox)
	assert.Equal(t, "Morgan", snap.Connections[0].Username)
}

func TestDisconnect(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)
	a := mustConnect(t, c, "conn-a")
	b := mustConnect(t, c, "conn-b")
	joinRoom(t, c, "conn-a", 42)
	joinRoom(t, c, "conn-b", 42)
	dispatch(c, "conn-a", `{"type":"claim_host","user_id":1,"room_id":42}`)
	drainOutbox(a.Outbox)
	drainOutbox(b.Outbox)

	c.Disconnect("conn-a")

	notice := recvEnvelope(t, b.Outbox)
	assert.Equal(t, "Player_1 disconnected", notice.Text)

	assert.False(t, c.HasSession("conn-a"))
	_, hostRemains := c.HostOf(42)
	assert.False(t, hostRemains)
	assert.False(t, c.IsMember("conn-a", 42))
	assert.True(t, a.Outbox.IsClosed())
	assert.Equal(t, [][2]int64{{1, 42}}, store.leaves)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)
	mustConnect(t, c, "conn-a")
	joinRoom(t, c, "conn-a", 42)

	c.Disconnect("conn-a")
	c.Disconnect("conn-a")

	assert.Equal(t, 0, c.SessionCount())
	assert.Len(t, store.leaves, 1)
}

func TestDisconnectLastMemberDeletesRoom(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	mustConnect(t, c, "conn-a")
	joinRoom(t, c, "conn-a", 42)
	require.Equal(t, 1, c.RoomCount())

	c.Disconnect("conn-a")

	assert.Equal(t, 0, c.RoomCount())
}

func TestDispatchAfterDisconnectIsDropped(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	mustConnect(t, c, "conn-a")
	c.Disconnect("conn-a")

	assert.NotPanics(t, func() {
		joinRoom(t, c, "conn-a", 42)
	})
	assert.Equal(t, 0, c.RoomCount())
}

func TestStoreFailureDoesNotBlockCoordination(t *testing.T) {
	store := newFakeStore()
	store.failJoins = true
	store.failQuestions = true
	store.failReplies = true
	store.failScores = true
	store.failRenames = true
	store.failLeaves = true
	c := newTestCoordinator(store)

	a := mustConnect(t, c, "conn-a")
	b := mustConnect(t, c, "conn-b")
	joinRoom(t, c, "conn-a", 42)
	joinRoom(t, c, "conn-b", 42)
	dispatch(c, "conn-a", `{"type":"claim_host","user_id":1,"room_id":42}`)
	drainOutbox(a.Outbox)
	drainOutbox(b.Outbox)

	dispatch(c, "conn-a", `{"type":"post_question","user_id":1,"room_id":42,"text":"still works"}`)

	notice := recvEnvelope(t, b.Outbox)
	assert.Equal(t, "Host Player_1 prompted:\n  still works.", notice.Text)
	ack := recvEnvelope(t, a.Outbox)
	assert.Equal(t, "question posted.", ack.Text)

	dispatch(c, "conn-b", `{"type":"change_username","user_id":2,"text":"Robin"}`)
	drainOutbox(a.Outbox)
	renameAck := recvEnvelope(t, b.Outbox)
	assert.Equal(t, "ok", renameAck.Text)

	c.Disconnect("conn-b")
	assert.Equal(t, 1, c.SessionCount())
}

func TestIdentityMintedOnFirstFrameAfterConnectFailure(t *testing.T) {
	store := newFakeStore()
	store.failMint = true
	c := newTestCoordinator(store)

	sess, err := c.Connect(context.Background(), "conn-a")
	require.NoError(t, err)
	drainOutbox(sess.Outbox)
	assert.Zero(t, sess.UserID)

	// Store recovers before the first frame arrives.
	store.mu.Lock()
	store.failMint = false
	store.mu.Unlock()

	joinRoom(t, c, "conn-a", 42)
	snap := recvSnapshot(t, sess.Outbox)
	assert.Equal(t, "Player_1", snap.Connections[0].Username)
}

func TestUnidentifiedSessionRejectedWhileStoreDown(t *testing.T) {
	store := newFakeStore()
	store.failMint = true
	c := newTestCoordinator(store)

	sess, err := c.Connect(context.Background(), "conn-a")
	require.NoError(t, err)
	drainOutbox(sess.Outbox)

	joinRoom(t, c, "conn-a", 42)

	env := recvEnvelope(t, sess.Outbox)
	assert.Equal(t, EnvelopeError, env.Kind)
	assert.Equal(t, CodeNoIdentity, env.Code)
	assert.Equal(t, 0, c.RoomCount())
}

// TestPropertyRoomConsistency drives random connect/join/claim/disconnect
// sequences and checks the structural invariants after every step: a host
// is always a member of its room, rooms with no members do not linger, and
// membership agrees with the member score records.
func TestPropertyRoomConsistency(t *testing.T) {
	connIDs := []string{"c1", "c2", "c3", "c4"}
	roomIDs := []int64{1, 2, 3}

	rapid.Check(t, func(t *rapid.T) {
		c := NewCoordinator(newFakeStore(), time.Second, 1024, zap.NewNop())
		live := make(map[string]*Session)

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			connID := rapid.SampledFrom(connIDs).Draw(t, "conn")
			roomID := rapid.SampledFrom(roomIDs).Draw(t, "room")
			op := rapid.IntRange(0, 3).Draw(t, "op")

			switch op {
			case 0:
				if _, ok := live[connID]; !ok {
					sess, err := c.Connect(context.Background(), connID)
					if err == nil {
						live[connID] = sess
					}
				}
			case 1:
				dispatch(c, connID, fmt.Sprintf(`{"type":"room_init","user_id":1,"room_id":%d}`, roomID))
			case 2:
				dispatch(c, connID, fmt.Sprintf(`{"type":"claim_host","user_id":1,"room_id":%d}`, roomID))
			case 3:
				c.Disconnect(connID)
				delete(live, connID)
			}

			for _, sess := range live {
				drainOutbox(sess.Outbox)
			}

			for _, rid := range roomIDs {
				if host, ok := c.HostOf(rid); ok {
					if !c.IsMember(host, rid) {
						t.Fatalf("host %s of room %d is not a member", host, rid)
					}
				}
				for _, cid := range connIDs {
					_, hasScore := c.ScoreOf(cid, rid)
					if hasScore != c.IsMember(cid, rid) {
						t.Fatalf("membership and score records disagree for %s in room %d", cid, rid)
					}
				}
			}
		}

		if c.SessionCount() != len(live) {
			t.Fatalf("expected %d sessions, coordinator has %d", len(live), c.SessionCount())
		}
	})
}
