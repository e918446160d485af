package autoaccept

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"maunium.net/go/mautrix/id"
)

// ErrUnrecognizedDirectEntry is returned when the m.direct entry of a
// counterparty is not a list of room IDs. The entry is left alone.
var ErrUnrecognizedDirectEntry = errors.New("m.direct entry is not a list of room IDs")

// directRooms is the decoded m.direct value of one counterparty.
type directRooms struct {
	rooms      []id.RoomID
	recognized bool
}

func decodeDirectRooms(raw json.RawMessage) directRooms {
	var rooms []id.RoomID
	if err := json.Unmarshal(raw, &rooms); err != nil || rooms == nil {
		return directRooms{}
	}

	return directRooms{rooms: rooms, recognized: true}
}

// DirectMessageRecorder adds rooms to the m.direct account data of an
// account. Entries it doesn't touch are written back exactly as read.
//
// The read and the write are not atomic: two concurrent recordings for the
// same owner can lose one of the updates.
type DirectMessageRecorder struct {
	store AccountDataManager
}

func NewDirectMessageRecorder(store AccountDataManager) *DirectMessageRecorder {
	return &DirectMessageRecorder{store: store}
}

// Record marks roomID as a direct chat with counterparty from owner's point
// of view.
func (r *DirectMessageRecorder) Record(ctx context.Context, owner, counterparty id.UserID, roomID id.RoomID) error {
	dmMap, err := r.store.GetGlobal(ctx, owner, AccountDataDirectMessageList)
	if err != nil {
		return fmt.Errorf("reading %s of %s: %w", AccountDataDirectMessageList, owner, err)
	}

	if dmMap == nil {
		dmMap = make(map[string]json.RawMessage)
	}

	var rooms []id.RoomID

	if raw, ok := dmMap[counterparty.String()]; ok {
		existing := decodeDirectRooms(raw)
		if !existing.recognized {
			return fmt.Errorf("%w: %s of %s, key %s holds %s", ErrUnrecognizedDirectEntry,
				AccountDataDirectMessageList, owner, counterparty, raw)
		}

		rooms = existing.rooms
	}

	updated, err := json.Marshal(append(rooms, roomID))
	if err != nil {
		return err
	}

	dmMap[counterparty.String()] = updated

	if err := r.store.PutGlobal(ctx, owner, AccountDataDirectMessageList, dmMap); err != nil {
		return fmt.Errorf("writing %s of %s: %w", AccountDataDirectMessageList, owner, err)
	}

	return nil
}
