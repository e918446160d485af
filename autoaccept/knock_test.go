package autoaccept

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const knocker = id.UserID("@knocker:remote")

func membership(m string, ts int64) *event.Event {
	return memberEvent(knocker, knocker, ts, map[string]interface{}{"membership": m})
}

func TestHasMostRecentlyKnocked(t *testing.T) {
	tests := []struct {
		Desc    string
		History []*event.Event
		Want    bool
	}{
		{"no history", nil, false},
		{"single knock", []*event.Event{membership("knock", 1000)}, true},
		{"knock then leave", []*event.Event{membership("knock", 1000), membership("leave", 2000)}, false},
		{"leave then knock", []*event.Event{membership("leave", 1000), membership("knock", 2000)}, true},
		{"unordered history", []*event.Event{membership("knock", 3000), membership("leave", 1000), membership("join", 2000)}, true},
		{"equal timestamps keep the first", []*event.Event{membership("knock", 1000), membership("leave", 1000)}, true},
		{"equal timestamps keep the first, leave", []*event.Event{membership("leave", 1000), membership("knock", 1000)}, false},
		{"nil entries are skipped", []*event.Event{nil, membership("knock", 1000)}, true},
	}

	for _, tt := range tests {
		api := newFakeAPI()
		api.stateEvents = tt.History

		got := NewKnockChecker(api).HasMostRecentlyKnocked(context.Background(), knocker, testRoom)
		assert.Equal(t, tt.Want, got, tt.Desc)
	}
}

func TestHasMostRecentlyKnockedQueryFailure(t *testing.T) {
	api := newFakeAPI()
	api.stateEvents = []*event.Event{membership("knock", 1000)}
	api.stateErr = errors.New("state store unavailable")

	assert.False(t, NewKnockChecker(api).HasMostRecentlyKnocked(context.Background(), knocker, testRoom))
	assert.Equal(t, 1, api.stateCalls)
}

func TestHasMostRecentlyKnockedOtherUser(t *testing.T) {
	api := newFakeAPI()
	api.stateEvents = []*event.Event{membership("knock", 1000)}

	assert.False(t, NewKnockChecker(api).HasMostRecentlyKnocked(context.Background(), "@someone:else", testRoom))
}

func TestMostRecentSkipsNil(t *testing.T) {
	_, found := mostRecent([]*event.Event{nil, nil})
	assert.False(t, found)

	latest, found := mostRecent([]*event.Event{nil, membership("leave", 1000), nil})
	assert.True(t, found)
	assert.Equal(t, event.MembershipLeave, latest.Membership)
}
