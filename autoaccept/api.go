package autoaccept

import (
	"context"
	"encoding/json"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// EventHandler is invoked by the host for every event committed to a room.
// It never returns an error: nothing the accepter does may disturb the
// host's event pipeline.
type EventHandler func(ctx context.Context, ev *event.Event)

// MembershipUpdate is what the host returns after a successful membership
// transition.
type MembershipUpdate struct {
	RoomID     id.RoomID
	Membership event.Membership
}

type Locality interface {
	IsMine(userID id.UserID) bool
}

type MembershipUpdater interface {
	UpdateRoomMembership(ctx context.Context, sender, target id.UserID, roomID id.RoomID, membership event.Membership) (*MembershipUpdate, error)
}

type StateQuerier interface {
	// GetStateEvents returns the state events of the given type and state
	// key recorded for the room.
	GetStateEvents(ctx context.Context, roomID id.RoomID, evType event.Type, stateKey string) ([]*event.Event, error)
}

// AccountDataManager reads and writes global account data. GetGlobal returns
// a nil map and no error when nothing is stored under key.
type AccountDataManager interface {
	GetGlobal(ctx context.Context, userID id.UserID, key string) (map[string]json.RawMessage, error)
	PutGlobal(ctx context.Context, userID id.UserID, key string, content interface{}) error
}

// ModuleAPI is everything the accepter needs from the homeserver it runs
// against.
type ModuleAPI interface {
	Locality
	MembershipUpdater
	StateQuerier
	AccountDataManager

	// WorkerName names this process. The primary process has an empty name.
	WorkerName() string
	RegisterOnNewEvent(handler EventHandler)
}
