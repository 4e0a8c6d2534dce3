package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Session tracks one live connection: its minted identity, canonical display
// name, current room memberships, and exclusively-owned send handle.
// All fields except Outbox are guarded by the coordinator mutex.
type Session struct {
	// ConnID is the opaque connection identifier, unique for the
	// connection's lifetime.
	ConnID string
	// UserID is the stable identity minted through the store. Zero until
	// identity is established.
	UserID int64
	// Username is the canonical display name. Room views resolve names from
	// here at snapshot and broadcast time; nothing else caches them.
	Username string
	// Rooms is the set of room ids this session has joined.
	Rooms map[int64]bool
	// Outbox is the outbound send handle owned by this session.
	Outbox *Outbox
}

// replyAuthor records who sent a reply, so a winning selection can award the
// author a point.
type replyAuthor struct {
	connID string
	userID int64
}

// liveRoom is the in-memory coordination state for one room id.
type liveRoom struct {
	// hostConnID is the claiming connection, empty while unclaimed.
	// Invariant: when non-empty it is always one of members.
	hostConnID string
	// members in join order; names are resolved from sessions, not cached.
	members []member
	// replyAuthors maps delivered reply text to its author for the current
	// round; cleared when the host selects a winner.
	replyAuthors map[string]replyAuthor
}

type member struct {
	connID string
	score  int
}

func newLiveRoom() *liveRoom {
	return &liveRoom{replyAuthors: make(map[string]replyAuthor)}
}

// Coordinator owns the connection registry and the room table. All mutation
// goes through its entry points (Connect, Dispatch, Disconnect); each
// read-check-mutate sequence runs inside one exclusive section, with store
// calls kept outside the lock so a slow store never blocks other
// connections' frames.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*Session
	rooms    map[int64]*liveRoom

	store       Store
	callTimeout time.Duration
	sendBuffer  int
	logger      *zap.Logger
}

// NewCoordinator creates a Coordinator with the given store and logger.
//
// Precondition: store and logger must be non-nil; callTimeout must be
// positive.
func NewCoordinator(store Store, callTimeout time.Duration, sendBuffer int, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		sessions:    make(map[string]*Session),
		rooms:       make(map[int64]*liveRoom),
		store:       store,
		callTimeout: callTimeout,
		sendBuffer:  sendBuffer,
		logger:      logger,
	}
}

// storeCtx bounds a store call. The baseline upstream design had no timeout
// here; one is applied so a wedged store cannot pin a handler forever.
func (c *Coordinator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// Connect registers a new connection, mints its identity through the store,
// and greets it. A store failure leaves the session unidentified; identity
// is retried on the first valid frame.
//
// Precondition: connID must be unique among live connections.
// Postcondition: Returns the created Session, or an error if connID is
// already registered.
func (c *Coordinator) Connect(ctx context.Context, connID string) (*Session, error) {
	sctx, cancel := c.storeCtx(ctx)
	identity, err := c.store.AddUser(sctx)
	cancel()
	if err != nil {
		c.logger.Warn("identity mint failed, deferring to first frame",
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		identity = UserIdentity{}
	}

	sess := &Session{
		ConnID:   connID,
		UserID:   identity.ID,
		Username: identity.Username,
		Rooms:    make(map[int64]bool),
		Outbox:   NewOutbox(connID, c.sendBuffer),
	}

	c.mu.Lock()
	if _, exists := c.sessions[connID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("connection %q already registered", connID)
	}
	c.sessions[connID] = sess
	c.mu.Unlock()

	c.send(sess.Outbox, statusFrame("connected to server"))
	return sess, nil
}

// Dispatch validates one inbound frame and routes it to its handler. A
// frame failing validation yields the fixed "Invalid message" reply and no
// state change; it never terminates the connection. Frames from connections
// that disconnected mid-flight are dropped.
func (c *Coordinator) Dispatch(ctx context.Context, connID string, data []byte) {
	c.mu.Lock()
	sess, ok := c.sessions[connID]
	c.mu.Unlock()
	if !ok {
		return
	}

	msg, err := ParseMessage(data)
	if err != nil {
		c.logger.Debug("invalid frame",
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		c.send(sess.Outbox, errorFrame(CodeInvalidMessage, "Invalid message"))
		return
	}

	if !c.ensureIdentity(ctx, connID) {
		c.send(sess.Outbox, errorFrame(CodeNoIdentity, "Identity not established"))
		return
	}

	switch msg.Type {
	case KindRoomInit:
		c.roomInit(ctx, connID, *msg.RoomID)
	case KindClaimHost:
		c.claimHost(connID, *msg.RoomID)
	case KindPostQuestion:
		c.postQuestion(ctx, connID, *msg.RoomID, *msg.Text)
	case KindPostResponse:
		c.postResponse(ctx, connID, *msg.RoomID, *msg.QuestionID, *msg.Text)
	case KindChooseResponse:
		c.chooseResponse(ctx, connID, *msg.RoomID, *msg.Text)
	case KindChangeUsername:
		c.changeUsername(ctx, connID, *msg.Text)
	}
}

// ensureIdentity mints an identity for sessions whose connect-time mint
// failed. Reports whether the session is identified.
func (c *Coordinator) ensureIdentity(ctx context.Context, connID string) bool {
	c.mu.Lock()
	sess, ok := c.sessions[connID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if sess.UserID != 0 {
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	sctx, cancel := c.storeCtx(ctx)
	identity, err := c.store.AddUser(sctx)
	cancel()
	if err != nil {
		c.logger.Warn("identity mint retry failed",
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok = c.sessions[connID]
	if !ok {
		return false
	}
	if sess.UserID == 0 {
		sess.UserID = identity.ID
		sess.Username = identity.Username
	}
	return true
}

// roomInit handles an idempotent join: lazy room creation, membership,
// join notice to peers, and a snapshot reply to the caller whether or not
// this call created the membership.
func (c *Coordinator) roomInit(ctx context.Context, connID string, roomID int64) {
	c.mu.Lock()
	sess, ok := c.sessions[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	userID := sess.UserID
	c.mu.Unlock()

	// Authoritative score from the store; score 0 when the store is down.
	score := 0
	sctx, cancel := c.storeCtx(ctx)
	s, err := c.store.JoinRoom(sctx, userID, roomID)
	cancel()
	if err != nil {
		c.logger.Warn("store join failed, using zero score",
			zap.Int64("user_id", userID),
			zap.Int64("room_id", roomID),
			zap.Error(err),
		)
	} else {
		score = s
	}

	// The store call above is a suspension point: membership and room
	// existence are re-checked inside this exclusive section so two
	// interleaved joins for the same new room cannot both create it.
	c.mu.Lock()
	sess, ok = c.sessions[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	joined := false
	if !sess.Rooms[roomID] {
		r := c.rooms[roomID]
		if r == nil {
			r = newLiveRoom()
			c.rooms[roomID] = r
		}
		r.members = append(r.members, member{connID: connID, score: score})
		sess.Rooms[roomID] = true
		joined = true
	}
	snap := c.snapshotLocked(roomID)
	var peers []*Outbox
	name := sess.Username
	out := sess.Outbox
	if joined {
		peers = c.peersLocked(roomID, connID)
	}
	c.mu.Unlock()

	if joined {
		c.fanOut(peers, noticeFrame(fmt.Sprintf("%s connected", name)))
	}
	c.send(out, snap)
}

// claimHost assigns the caller as the room's host when it is a member and
// no host exists yet.
func (c *Coordinator) claimHost(connID string, roomID int64) {
	c.mu.Lock()
	sess, ok := c.sessions[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	out := sess.Outbox
	if !sess.Rooms[roomID] {
		c.mu.Unlock()
		c.send(out, errorFrame(CodeNotInRoom, "Invalid room selection"))
		return
	}
	r := c.rooms[roomID]
	if r.hostConnID != "" {
		c.mu.Unlock()
		c.send(out, errorFrame(CodeHostClaimed, "Host already claimed"))
		return
	}
	r.hostConnID = connID
	name := sess.Username
	peers := c.peersLocked(roomID, connID)
	c.mu.Unlock()

	c.fanOut(peers, noticeFrame("Host claimed by: "+name))
	c.send(out, statusFrame("ok"))
}

// postQuestion lets the current host pose a question: persisted through the
// store, broadcast as a formatted prompt to the other members, acknowledged
// to the host.
func (c *Coordinator) postQuestion(ctx context.Context, connID string, roomID int64, text string) {
	c.mu.Lock()
	sess, ok := c.sessions[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	out := sess.Outbox
	if !sess.Rooms[roomID] {
		c.mu.Unlock()
		c.send(out, errorFrame(CodeNotInRoom, "Not in room"))
		return
	}
	if c.rooms[roomID].hostConnID != connID {
		c.mu.Unlock()
		c.send(out, errorFrame(CodeNotHost, "Not host."))
		return
	}
	userID := sess.UserID
	name := sess.Username
	c.mu.Unlock()

	sctx, cancel := c.storeCtx(ctx)
	_, err := c.store.PostQuestion(sctx, userID, roomID, text)
	cancel()
	if err != nil {
		c.logger.Warn("store question insert failed",
			zap.Int64("user_id", userID),
			zap.Int64("room_id", roomID),
			zap.Error(err),
		)
	}

	c.mu.Lock()
	sess, ok = c.sessions[connID]
	if !ok || !sess.Rooms[roomID] {
		c.mu.Unlock()
		return
	}
	peers := c.peersLocked(roomID, connID)
	c.mu.Unlock()

	c.fanOut(peers, noticeFrame(fmt.Sprintf("Host %s prompted:\n  %s.", name, text)))
	c.send(out, statusFrame("question posted."))
}

// postResponse delivers a member's reply privately to the host connection
// only; it is never broadcast to the room.
func (c *Coordinator) postResponse(ctx context.Context, connID string, roomID, questionID int64, text string) {
	c.mu.Lock()
	sess, ok := c.sessions[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	out := sess.Outbox
	if !sess.Rooms[roomID] {
		c.mu.Unlock()
		c.send(out, errorFrame(CodeNotInRoom, "Not in room"))
		return
	}
	r := c.rooms[roomID]
	if r.hostConnID == connID {
		c.mu.Unlock()
		c.send(out, errorFrame(CodeIsHost, "Can't send as host."))
		return
	}
	if r.hostConnID == "" {
		c.mu.Unlock()
		c.send(out, errorFrame(CodeNoHost, "Game will start when host is claimed"))
		return
	}
	userID := sess.UserID
	name := sess.Username
	c.mu.Unlock()

	replyText := text
	sctx, cancel := c.storeCtx(ctx)
	rep, err := c.store.PostReply(sctx, userID, roomID, questionID, text)
	cancel()
	if err != nil {
		c.logger.Warn("store reply insert failed",
			zap.Int64("user_id", userID),
			zap.Int64("room_id", roomID),
			zap.Int64("question_id", questionID),
			zap.Error(err),
		)
	} else if rep.Text != "" {
		replyText = rep.Text
	}

	c.mu.Lock()
	sess, ok = c.sessions[connID]
	if !ok || !sess.Rooms[roomID] {
		c.mu.Unlock()
		return
	}
	r = c.rooms[roomID]
	if r.hostConnID == "" {
		// Host left while the reply was persisting.
		c.mu.Unlock()
		c.send(out, errorFrame(CodeNoHost, "Game will start when host is claimed"))
		return
	}
	hostSess := c.sessions[r.hostConnID]
	r.replyAuthors[replyText] = replyAuthor{connID: connID, userID: userID}
	c.mu.Unlock()

	c.send(hostSess.Outbox, noticeFrame(fmt.Sprintf("Reply from %s:\n  %s", name, replyText)))
	c.send(out, statusFrame("sent response."))
}

// chooseResponse lets the host select a winning reply: the room is notified
// of the selection, the authoring member is awarded a point when the text
// resolves to a reply from the current round, and the round's reply record
// is cleared.
func (c *Coordinator) chooseResponse(ctx context.Context, connID string, roomID int64, text string) {
	c.mu.Lock()
	sess, ok := c.sessions[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	out := sess.Outbox
	if !sess.Rooms[roomID] {
		c.mu.Unlock()
		c.send(out, errorFrame(CodeNotInRoom, "Not in room"))
		return
	}
	r := c.rooms[roomID]
	if r.hostConnID != connID {
		c.mu.Unlock()
		c.send(out, errorFrame(CodeNotHost, "Not host."))
		return
	}

	author, found := r.replyAuthors[text]
	if found {
		for i := range r.members {
			if r.members[i].connID == author.connID {
				r.members[i].score++
				break
			}
		}
	}
	r.replyAuthors = make(map[string]replyAuthor)
	name := sess.Username
	peers := c.peersLocked(roomID, connID)
	c.mu.Unlock()

	c.fanOut(peers, noticeFrame(fmt.Sprintf("Host %s selected: %s", name, text)))

	if found && author.userID > 0 {
		sctx, cancel := c.storeCtx(ctx)
		_, err := c.store.AddScore(sctx, author.userID, roomID, 1)
		cancel()
		if err != nil {
			c.logger.Warn("store score update failed",
				zap.Int64("user_id", author.userID),
				zap.Int64("room_id", roomID),
				zap.Error(err),
			)
		}
	}

	c.send(out, statusFrame("response chosen."))
}

// changeUsername updates the session's canonical name and notifies every
// room the session belongs to. The caller is acknowledged once per request.
func (c *Coordinator) changeUsername(ctx context.Context, connID string, text string) {
	c.mu.Lock()
	sess, ok := c.sessions[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	userID := sess.UserID
	out := sess.Outbox
	c.mu.Unlock()

	newName := text
	sctx, cancel := c.storeCtx(ctx)
	stored, err := c.store.ChangeUsername(sctx, userID, text)
	cancel()
	if err != nil {
		c.logger.Warn("store rename failed, renaming in memory only",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	} else if stored != "" {
		newName = stored
	}

	c.mu.Lock()
	sess, ok = c.sessions[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	oldName := sess.Username
	sess.Username = newName
	var notices [][]*Outbox
	for roomID := range sess.Rooms {
		notices = append(notices, c.peersLocked(roomID, connID))
	}
	c.mu.Unlock()

	for _, peers := range notices {
		c.fanOut(peers, noticeFrame(fmt.Sprintf("%s changed name to %s", oldName, newName)))
	}
	c.send(out, statusFrame("ok"))
}

// Disconnect tears down a session: a disconnect notice to each room's
// remaining members, host relinquished where held, member records removed,
// membership cleared in the store best-effort, and the session purged.
// Idempotent: a second invocation for the same connection id is a no-op.
func (c *Coordinator) Disconnect(connID string) {
	c.mu.Lock()
	sess, ok := c.sessions[connID]
	if !ok {
		c.mu.Unlock()
		return
	}
	name := sess.Username
	userID := sess.UserID

	type departure struct {
		roomID int64
		peers  []*Outbox
	}
	var departures []departure
	for roomID := range sess.Rooms {
		r := c.rooms[roomID]
		if r == nil {
			continue
		}
		peers := c.peersLocked(roomID, connID)
		if r.hostConnID == connID {
			r.hostConnID = ""
		}
		for i := range r.members {
			if r.members[i].connID == connID {
				r.members = append(r.members[:i], r.members[i+1:]...)
				break
			}
		}
		for text, a := range r.replyAuthors {
			if a.connID == connID {
				delete(r.replyAuthors, text)
			}
		}
		if len(r.members) == 0 {
			delete(c.rooms, roomID)
		}
		departures = append(departures, departure{roomID: roomID, peers: peers})
	}
	delete(c.sessions, connID)
	c.mu.Unlock()

	sess.Outbox.Close()

	for _, d := range departures {
		c.fanOut(d.peers, noticeFrame(name+" disconnected"))
		if userID > 0 {
			sctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
			err := c.store.LeaveRoom(sctx, userID, d.roomID)
			cancel()
			if err != nil {
				c.logger.Warn("store leave failed",
					zap.Int64("user_id", userID),
					zap.Int64("room_id", d.roomID),
					zap.Error(err),
				)
			}
		}
	}

	c.logger.Info("session disconnected",
		zap.String("conn_id", connID),
		zap.Int64("user_id", userID),
		zap.Int("rooms", len(departures)),
	)
}

// peersLocked returns the outboxes of every member of roomID except
// excludeConnID. Caller must hold the coordinator mutex.
func (c *Coordinator) peersLocked(roomID int64, excludeConnID string) []*Outbox {
	r := c.rooms[roomID]
	if r == nil {
		return nil
	}
	peers := make([]*Outbox, 0, len(r.members))
	for _, m := range r.members {
		if m.connID == excludeConnID {
			continue
		}
		if s, ok := c.sessions[m.connID]; ok {
			peers = append(peers, s.Outbox)
		}
	}
	return peers
}

// snapshotLocked marshals the current view of roomID. Display names are
// resolved from the registry here rather than cached per room, so renames
// are reflected everywhere immediately. Caller must hold the coordinator
// mutex.
func (c *Coordinator) snapshotLocked(roomID int64) []byte {
	snap := Snapshot{
		Kind:        EnvelopeSnapshot,
		RoomID:      roomID,
		Connections: []MemberView{},
	}
	r := c.rooms[roomID]
	if r != nil {
		if r.hostConnID != "" {
			var hostName string
			if s, ok := c.sessions[r.hostConnID]; ok {
				hostName = s.Username
			}
			snap.Host = &HostView{ConnectionID: r.hostConnID, Username: hostName}
		}
		for _, m := range r.members {
			var name string
			if s, ok := c.sessions[m.connID]; ok {
				name = s.Username
			}
			snap.Connections = append(snap.Connections, MemberView{Username: name, Score: m.score})
		}
	}
	return mustMarshal(snap)
}

// fanOut pushes one payload to every outbox. Best-effort: a failed send is
// logged and never prevents delivery to the others.
func (c *Coordinator) fanOut(peers []*Outbox, data []byte) {
	for _, o := range peers {
		c.send(o, data)
	}
}

// send pushes one frame to one outbox, logging failures.
func (c *Coordinator) send(o *Outbox, data []byte) {
	if err := o.Push(data); err != nil {
		c.logger.Warn("dropping outbound frame",
			zap.String("conn_id", o.ConnID()),
			zap.Error(err),
		)
	}
}

// SessionCount returns the number of live sessions.
func (c *Coordinator) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// RoomCount returns the number of rooms with at least one member.
func (c *Coordinator) RoomCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}

// HasSession reports whether connID is registered.
func (c *Coordinator) HasSession(connID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[connID]
	return ok
}

// IsMember reports whether connID has joined roomID.
func (c *Coordinator) IsMember(connID string, roomID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[connID]
	return ok && sess.Rooms[roomID]
}

// HostOf returns the host connection id of roomID, or false when the room
// is absent or unclaimed.
func (c *Coordinator) HostOf(roomID int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.rooms[roomID]
	if r == nil || r.hostConnID == "" {
		return "", false
	}
	return r.hostConnID, true
}

// ScoreOf returns the member score of connID in roomID.
func (c *Coordinator) ScoreOf(connID string, roomID int64) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.rooms[roomID]
	if r == nil {
		return 0, false
	}
	for _, m := range r.members {
		if m.connID == connID {
			return m.score, true
		}
	}
	return 0, false
}
