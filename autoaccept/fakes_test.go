package autoaccept

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const testRoom = id.RoomID("!the:room")

var errTransient = errors.New("transient failure")

type joinCall struct {
	Sender     id.UserID
	Target     id.UserID
	RoomID     id.RoomID
	Membership event.Membership
}

type accountDataCall struct {
	UserID  id.UserID
	Key     string
	Content interface{}
}

// fakeAPI is an in-memory homeserver for the accepter.
type fakeAPI struct {
	sync.Mutex

	serverName string
	workerName string
	handlers   []EventHandler

	// joinErrors are returned by successive joins; once used up joins
	// succeed unless joinAlwaysFails is set.
	joinErrors      []error
	joinAlwaysFails bool
	joins           []joinCall

	stateEvents []*event.Event
	stateErr    error
	stateCalls  int

	accountData map[id.UserID]map[string]map[string]json.RawMessage
	getErr      error
	gets        []accountDataCall
	puts        []accountDataCall
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		serverName:  "test",
		accountData: make(map[id.UserID]map[string]map[string]json.RawMessage),
	}
}

func (f *fakeAPI) WorkerName() string {
	return f.workerName
}

func (f *fakeAPI) RegisterOnNewEvent(handler EventHandler) {
	f.Lock()
	defer f.Unlock()

	f.handlers = append(f.handlers, handler)
}

func (f *fakeAPI) IsMine(userID id.UserID) bool {
	_, host, err := userID.Parse()
	return err == nil && host == f.serverName
}

func (f *fakeAPI) UpdateRoomMembership(ctx context.Context, sender, target id.UserID, roomID id.RoomID, membership event.Membership) (*MembershipUpdate, error) {
	f.Lock()
	defer f.Unlock()

	f.joins = append(f.joins, joinCall{Sender: sender, Target: target, RoomID: roomID, Membership: membership})

	if f.joinAlwaysFails {
		return nil, errTransient
	}

	if len(f.joinErrors) > 0 {
		err := f.joinErrors[0]
		f.joinErrors = f.joinErrors[1:]

		return nil, err
	}

	return &MembershipUpdate{RoomID: roomID, Membership: membership}, nil
}

func (f *fakeAPI) GetStateEvents(ctx context.Context, roomID id.RoomID, evType event.Type, stateKey string) ([]*event.Event, error) {
	f.Lock()
	defer f.Unlock()

	f.stateCalls++

	if f.stateErr != nil {
		return nil, f.stateErr
	}

	var events []*event.Event

	for _, ev := range f.stateEvents {
		if ev == nil {
			events = append(events, nil)
			continue
		}

		if ev.RoomID == roomID && ev.Type.Type == evType.Type && ev.StateKey != nil && *ev.StateKey == stateKey {
			events = append(events, ev)
		}
	}

	return events, nil
}

func (f *fakeAPI) GetGlobal(ctx context.Context, userID id.UserID, key string) (map[string]json.RawMessage, error) {
	f.Lock()
	defer f.Unlock()

	f.gets = append(f.gets, accountDataCall{UserID: userID, Key: key})

	if f.getErr != nil {
		return nil, f.getErr
	}

	stored, ok := f.accountData[userID][key]
	if !ok {
		return nil, nil
	}

	out := make(map[string]json.RawMessage, len(stored))
	for k, v := range stored {
		out[k] = v
	}

	return out, nil
}

func (f *fakeAPI) PutGlobal(ctx context.Context, userID id.UserID, key string, content interface{}) error {
	f.Lock()
	defer f.Unlock()

	f.puts = append(f.puts, accountDataCall{UserID: userID, Key: key, Content: content})

	data, err := json.Marshal(content)
	if err != nil {
		return err
	}

	var stored map[string]json.RawMessage
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}

	if f.accountData[userID] == nil {
		f.accountData[userID] = make(map[string]map[string]json.RawMessage)
	}

	f.accountData[userID][key] = stored

	return nil
}

func (f *fakeAPI) setAccountData(userID id.UserID, key, content string) {
	var stored map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &stored); err != nil {
		panic(err)
	}

	if f.accountData[userID] == nil {
		f.accountData[userID] = make(map[string]map[string]json.RawMessage)
	}

	f.accountData[userID][key] = stored
}

// storedJSON returns the stored account data re-encoded with sorted keys.
func (f *fakeAPI) storedJSON(userID id.UserID, key string) string {
	f.Lock()
	defer f.Unlock()

	data, err := json.Marshal(f.accountData[userID][key])
	if err != nil {
		panic(err)
	}

	return string(data)
}

func (f *fakeAPI) joinCalls() []joinCall {
	f.Lock()
	defer f.Unlock()

	return append([]joinCall(nil), f.joins...)
}

// fakeSleeper records the backoff delays instead of sleeping.
type fakeSleeper struct {
	sync.Mutex
	slept []time.Duration
}

func (s *fakeSleeper) sleep(d time.Duration) {
	s.Lock()
	defer s.Unlock()

	s.slept = append(s.slept, d)
}

func (s *fakeSleeper) delays() []time.Duration {
	s.Lock()
	defer s.Unlock()

	return append([]time.Duration(nil), s.slept...)
}

func memberEvent(sender, target id.UserID, ts int64, content map[string]interface{}) *event.Event {
	stateKey := target.String()

	return &event.Event{
		ID:        id.EventID("$event-" + stateKey),
		Type:      event.StateMember,
		Sender:    sender,
		StateKey:  &stateKey,
		RoomID:    testRoom,
		Timestamp: ts,
		Content:   event.Content{Raw: content},
	}
}

func invite(sender, target id.UserID, content map[string]interface{}) *event.Event {
	if content == nil {
		content = map[string]interface{}{}
	}

	content["membership"] = "invite"

	return memberEvent(sender, target, 1000, content)
}
