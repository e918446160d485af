// Package autoaccept accepts room invites on behalf of local users.
//
// An InviteAutoAccepter watches membership events handed to it by the
// homeserver. Invites that pass the configured policy are joined in the
// background, retrying while a federated invite is still propagating, and
// direct chat invites are additionally recorded in the invitee's m.direct
// account data.
package autoaccept

import (
	"context"
	"errors"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"maunium.net/go/mautrix/event"
)

type InviteAutoAccepter struct {
	api    ModuleAPI
	config Config
	active bool

	knock  *KnockChecker
	joiner *Joiner
	direct *DirectMessageRecorder
}

// New sets up the accepter and, when cfg places it on this worker, registers
// it with api. Whether the accepter is active is decided here once.
func New(cfg Config, api ModuleAPI) *InviteAutoAccepter {
	a := &InviteAutoAccepter{
		api:    api,
		config: cfg,
		knock:  NewKnockChecker(api),
		joiner: NewJoiner(api),
		direct: NewDirectMessageRecorder(api),
	}

	if cfg.WorkerToRunOn != api.WorkerName() {
		logger.Infof("Not accepting invites on this worker (configured: %q, here: %q)", cfg.WorkerToRunOn, api.WorkerName())
		return a
	}

	logger.Infof("Accepting invites on this worker (here: %q)", api.WorkerName())

	a.active = true
	api.RegisterOnNewEvent(a.OnNewEvent)

	return a
}

// Active reports whether the accepter was registered for events.
func (a *InviteAutoAccepter) Active() bool {
	return a.active
}

// OnNewEvent handles one event. The join runs detached; a direct chat
// invite's m.direct update is done before returning.
func (a *InviteAutoAccepter) OnNewEvent(ctx context.Context, ev *event.Event) {
	if ev == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("OnNewEvent %s panicked: %v", ev.ID, r)
		}
	}()

	if logger.Logger.IsLevelEnabled(logrus.TraceLevel) {
		logger.Tracef("OnNewEvent %s", spew.Sdump(ev))
	}

	view := NewMembershipEvent(ev)

	decision := ShouldAccept(ctx, view, a.config, a.api, a.knock)
	if decision == nil {
		return
	}

	logger.Infof("accepting invite of %s into %s from %s (direct: %t)", decision.Target, decision.RoomID, view.Sender, decision.IsDirect)

	a.joiner.Start(decision.Target, decision.RoomID)

	if !decision.IsDirect {
		return
	}

	err := a.direct.Record(ctx, decision.Target, view.Sender, decision.RoomID)
	switch {
	case errors.Is(err, ErrUnrecognizedDirectEntry):
		logger.Warnf("Not marking room as DM for auto-accepted invitation: %s", err)
	case err != nil:
		logger.Errorf("marking %s as DM with %s for %s failed: %s", decision.RoomID, view.Sender, decision.Target, err)
	}
}

// Wait blocks until all background joins have finished.
func (a *InviteAutoAccepter) Wait() {
	a.joiner.Wait()
}
