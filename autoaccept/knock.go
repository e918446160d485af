package autoaccept

import (
	"context"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

type KnockHistory interface {
	HasMostRecentlyKnocked(ctx context.Context, userID id.UserID, roomID id.RoomID) bool
}

// KnockChecker answers from room state whether a user's latest membership
// in a room is a knock.
type KnockChecker struct {
	state StateQuerier
}

func NewKnockChecker(state StateQuerier) *KnockChecker {
	return &KnockChecker{state: state}
}

// HasMostRecentlyKnocked returns false whenever the history can't be read:
// an invite must never be accepted on an unknown knock history.
func (k *KnockChecker) HasMostRecentlyKnocked(ctx context.Context, userID id.UserID, roomID id.RoomID) bool {
	events, err := k.state.GetStateEvents(ctx, roomID, event.StateMember, userID.String())
	if err != nil {
		logger.Warnf("Unable to determine knock history for user %s in room %s: %s", userID, roomID, err)
		return false
	}

	latest, ok := mostRecent(events)
	if !ok {
		return false
	}

	logger.Debugf("most recent membership of %s in %s is %q", userID, roomID, latest.Membership)

	return latest.Membership == MembershipKnock
}

// mostRecent picks the event with the highest origin_server_ts. On equal
// timestamps the earlier event in the slice wins.
func mostRecent(events []*event.Event) (MembershipEvent, bool) {
	var (
		latest MembershipEvent
		found  bool
	)

	for _, ev := range events {
		if ev == nil {
			continue
		}

		if !found || ev.Timestamp > latest.Timestamp {
			latest = NewMembershipEvent(ev)
			found = true
		}
	}

	return latest, found
}
