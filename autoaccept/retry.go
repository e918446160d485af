package autoaccept

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/desertbit/timer"
	"github.com/jpillora/backoff"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	maxJoinAttempts = 5
	maxJoinBackoff  = 8 * time.Second
)

var errNoJoinResult = errors.New("membership update returned no result")

// retryState is owned by a single join goroutine.
type retryState struct {
	attempts int
	backoff  time.Duration
	result   *MembershipUpdate
}

// Joiner makes local users join rooms they were invited to. Joining right
// after a federated invite can fail until the invite has propagated, so each
// join is retried with an exponential backoff in its own goroutine.
type Joiner struct {
	updater  MembershipUpdater
	attempts int
	sleep    func(time.Duration)
	wg       sync.WaitGroup
}

func NewJoiner(updater MembershipUpdater) *Joiner {
	return &Joiner{
		updater:  updater,
		attempts: maxJoinAttempts,
		sleep:    sleep,
	}
}

// Start launches the join of target into roomID and returns immediately.
// The retry loop can't be cancelled; it ends after a successful join or
// after the last attempt.
func (j *Joiner) Start(target id.UserID, roomID id.RoomID) {
	j.wg.Add(1)

	go func() {
		defer j.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("join of %s into %s panicked: %v", target, roomID, r)
			}
		}()

		j.retryJoin(context.Background(), target, roomID)
	}()
}

// Wait blocks until every join started so far has finished.
func (j *Joiner) Wait() {
	j.wg.Wait()
}

func (j *Joiner) retryJoin(ctx context.Context, target id.UserID, roomID id.RoomID) *MembershipUpdate {
	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    maxJoinBackoff,
		Factor: 2,
		Jitter: false,
	}

	state := &retryState{}

	for state.attempts < j.attempts {
		if state.backoff > 0 {
			logger.Debugf("retrying join of %s into %s in %s", target, roomID, state.backoff)
			j.sleep(state.backoff)
		}

		result, err := j.updater.UpdateRoomMembership(ctx, target, target, roomID, event.MembershipJoin)
		if err == nil && result == nil {
			err = errNoJoinResult
		}

		state.attempts++

		if err == nil {
			state.result = result
			logger.Infof("%s joined %s after %d attempt(s)", target, roomID, state.attempts)

			return state.result
		}

		logger.Infof("UpdateRoomMembership for %s in %s failed (attempt %d/%d): %s", target, roomID, state.attempts, j.attempts, err)
		state.backoff = b.Duration()
	}

	logger.Warnf("giving up joining %s into %s after %d attempts", target, roomID, state.attempts)

	return nil
}

func sleep(d time.Duration) {
	t := timer.NewTimer(d)
	defer t.Stop()
	<-t.C
}
