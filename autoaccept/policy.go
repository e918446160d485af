package autoaccept

import (
	"context"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Decision is the accept signal of the invite policy.
type Decision struct {
	Target   id.UserID
	RoomID   id.RoomID
	IsDirect bool
}

// ShouldAccept evaluates the invite policy for ev. It returns nil when the
// event is not an invite that cfg allows to be accepted. knock is only
// consulted when cfg requires a previous knock.
func ShouldAccept(ctx context.Context, ev MembershipEvent, cfg Config, locality Locality, knock KnockHistory) *Decision {
	if !isInviteForLocalUser(ev, locality) {
		return nil
	}

	isDirect := ev.IsDirect()
	if cfg.AcceptOnlyDirectMessages && !isDirect {
		logger.Debugf("ignoring invite %s for %s: not a direct message", ev.ID, ev.Target())
		return nil
	}

	if cfg.AcceptOnlyFromLocalUsers && !locality.IsMine(ev.Sender) {
		logger.Debugf("ignoring invite %s for %s: %s is not a local user", ev.ID, ev.Target(), ev.Sender)
		return nil
	}

	if cfg.AcceptOnlyFromPreviouslyKnocked && !knock.HasMostRecentlyKnocked(ctx, ev.Sender, ev.RoomID) {
		logger.Debugf("ignoring invite %s for %s: %s did not knock on %s", ev.ID, ev.Target(), ev.Sender, ev.RoomID)
		return nil
	}

	return &Decision{
		Target:   ev.Target(),
		RoomID:   ev.RoomID,
		IsDirect: isDirect,
	}
}

func isInviteForLocalUser(ev MembershipEvent, locality Locality) bool {
	return ev.Type == event.StateMember.Type &&
		ev.IsState &&
		ev.Membership == event.MembershipInvite &&
		locality.IsMine(ev.Target())
}
