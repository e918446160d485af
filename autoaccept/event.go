package autoaccept

import (
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MembershipKnock is the membership value of a knock.
const MembershipKnock event.Membership = "knock"

// AccountDataDirectMessageList is the account data key holding the
// counterparty -> rooms map of direct chats.
const AccountDataDirectMessageList = "m.direct"

// MembershipEvent is a read-only view of the fields of an event the invite
// policy looks at. Content is shared with the source event and must not be
// modified.
type MembershipEvent struct {
	ID         id.EventID
	Type       string
	IsState    bool
	Membership event.Membership
	Sender     id.UserID
	StateKey   *id.UserID
	RoomID     id.RoomID
	Content    map[string]interface{}
	Timestamp  int64
}

func NewMembershipEvent(ev *event.Event) MembershipEvent {
	view := MembershipEvent{
		ID:        ev.ID,
		Type:      ev.Type.Type,
		IsState:   ev.StateKey != nil,
		Sender:    ev.Sender,
		RoomID:    ev.RoomID,
		Content:   ev.Content.Raw,
		Timestamp: ev.Timestamp,
	}

	if ev.StateKey != nil {
		target := id.UserID(*ev.StateKey)
		view.StateKey = &target
	}

	if membership, ok := view.stringField("membership"); ok {
		view.Membership = event.Membership(membership)
	}

	return view
}

// IsDirect reports whether content.is_direct is the JSON boolean true.
func (e MembershipEvent) IsDirect() bool {
	isDirect, ok := e.Content["is_direct"].(bool)
	return ok && isDirect
}

// Target returns the state key as the account the membership is about.
func (e MembershipEvent) Target() id.UserID {
	if e.StateKey == nil {
		return ""
	}

	return *e.StateKey
}

// stringField treats a value of the wrong type the same as a missing one.
func (e MembershipEvent) stringField(key string) (string, bool) {
	v, ok := e.Content[key].(string)
	return v, ok
}
