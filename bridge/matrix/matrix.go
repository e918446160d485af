package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/42wim/autoacceptd/autoaccept"
	"github.com/42wim/autoacceptd/bridge"
	"github.com/davecgh/go-spew/spew"
	lru "github.com/hashicorp/golang-lru"
	prefixed "github.com/matterbridge/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Matrix is the homeserver as seen by the invite accepter. It acts on
// behalf of local users through the application service token.
type Matrix struct {
	credentials bridge.Credentials
	v           *viper.Viper
	sender      id.UserID
	handlers    []autoaccept.EventHandler
	sync.RWMutex

	clients *lru.Cache

	// readers maps a room to a local user recently seen sending into it,
	// room state is read through that user.
	readers *lru.Cache
}

const defaultClientCacheSize = 256

var logger = logrus.WithFields(logrus.Fields{"prefix": "bridge/matrix"})

func New(v *viper.Viper, cred bridge.Credentials) (*Matrix, error) {
	ourlog := logrus.New()
	ourlog.SetFormatter(&prefixed.TextFormatter{
		PrefixPadding: 14,
		FullTimestamp: true,
	})
	logger = ourlog.WithFields(logrus.Fields{"prefix": "bridge/matrix"})
	if v.GetBool("debug") {
		ourlog.SetLevel(logrus.DebugLevel)
	}

	if v.GetBool("trace") {
		ourlog.SetLevel(logrus.TraceLevel)
	}

	if cred.Server == "" || cred.ServerName == "" {
		return nil, errors.New("matrix: server and servername are required")
	}

	if cred.ASToken == "" || cred.HSToken == "" {
		return nil, errors.New("matrix: astoken and hstoken are required")
	}

	m := &Matrix{
		credentials: cred,
		v:           v,
		sender:      id.UserID(fmt.Sprintf("@%s:%s", cred.Sender, cred.ServerName)),
	}
	size := v.GetInt("matrix.clientcache")
	if size <= 0 {
		size = defaultClientCacheSize
	}

	m.clients, _ = lru.New(size)
	m.readers, _ = lru.New(size)

	// fail early on a bad homeserver URL
	if _, err := m.client(m.sender); err != nil {
		return nil, err
	}

	return m, nil
}

// client returns a client masquerading as userID.
func (m *Matrix) client(userID id.UserID) (*mautrix.Client, error) {
	if c, ok := m.clients.Get(userID); ok {
		if mc, ok := c.(*mautrix.Client); ok {
			return mc, nil
		}
	}

	mc, err := mautrix.NewClient(m.credentials.Server, userID, m.credentials.ASToken)
	if err != nil {
		return nil, err
	}

	mc.AppServiceUserID = userID

	m.clients.Add(userID, mc)

	return mc, nil
}

func (m *Matrix) WorkerName() string {
	return m.v.GetString("worker_name")
}

func (m *Matrix) RegisterOnNewEvent(handler autoaccept.EventHandler) {
	m.Lock()
	defer m.Unlock()

	m.handlers = append(m.handlers, handler)
}

// dispatch hands ev to every registered handler in registration order.
func (m *Matrix) dispatch(ctx context.Context, ev *event.Event) {
	m.RLock()
	handlers := m.handlers
	m.RUnlock()

	if logger.Logger.IsLevelEnabled(logrus.TraceLevel) {
		logger.Tracef("dispatch %s", spew.Sdump(ev))
	}

	if ev.RoomID != "" && m.IsMine(ev.Sender) {
		m.readers.Add(ev.RoomID, ev.Sender)
	}

	for _, handler := range handlers {
		handler(ctx, ev)
	}
}

func (m *Matrix) IsMine(userID id.UserID) bool {
	_, host, err := userID.Parse()
	if err != nil {
		return false
	}

	return host == m.credentials.ServerName
}

func (m *Matrix) UpdateRoomMembership(ctx context.Context, sender, target id.UserID, roomID id.RoomID, membership event.Membership) (*autoaccept.MembershipUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if sender != target {
		return nil, fmt.Errorf("%s can't change the membership of %s", sender, target)
	}

	mc, err := m.client(sender)
	if err != nil {
		return nil, err
	}

	switch membership {
	case event.MembershipJoin:
		resp, err := mc.JoinRoomByID(roomID)
		if err != nil {
			return nil, err
		}

		logger.Debugf("%s joined %s", sender, resp.RoomID)

		return &autoaccept.MembershipUpdate{RoomID: resp.RoomID, Membership: membership}, nil
	case event.MembershipLeave:
		if _, err := mc.LeaveRoom(roomID); err != nil {
			return nil, err
		}

		return &autoaccept.MembershipUpdate{RoomID: roomID, Membership: membership}, nil
	default:
		return nil, fmt.Errorf("unsupported membership %q", membership)
	}
}

// GetStateEvents returns the current member events of roomID with the given
// state key. The room is read as the last local user seen sending into it,
// or as the registration's sender user when there is none.
func (m *Matrix) GetStateEvents(ctx context.Context, roomID id.RoomID, evType event.Type, stateKey string) ([]*event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if evType.Type != event.StateMember.Type {
		return nil, fmt.Errorf("unsupported state event type %s", evType.Type)
	}

	mc, err := m.client(m.stateReader(roomID))
	if err != nil {
		return nil, err
	}

	resp, err := mc.Members(roomID)
	if err != nil {
		return nil, err
	}

	var events []*event.Event

	for _, ev := range resp.Chunk {
		if ev == nil || ev.StateKey == nil || *ev.StateKey != stateKey {
			continue
		}

		events = append(events, ev)
	}

	return events, nil
}

func (m *Matrix) stateReader(roomID id.RoomID) id.UserID {
	if r, ok := m.readers.Get(roomID); ok {
		if userID, ok := r.(id.UserID); ok {
			return userID
		}
	}

	return m.sender
}

func (m *Matrix) GetGlobal(ctx context.Context, userID id.UserID, key string) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mc, err := m.client(userID)
	if err != nil {
		return nil, err
	}

	var content map[string]json.RawMessage

	err = mc.GetAccountData(key, &content)
	switch {
	case isNotFound(err):
		return nil, nil
	case err != nil:
		return nil, err
	}

	return content, nil
}

func (m *Matrix) PutGlobal(ctx context.Context, userID id.UserID, key string, content interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mc, err := m.client(userID)
	if err != nil {
		return err
	}

	return mc.SetAccountData(key, content)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *mautrix.HTTPError
	if errors.As(err, &httpErr) && httpErr.RespError != nil {
		return httpErr.RespError.ErrCode == "M_NOT_FOUND"
	}

	return strings.Contains(err.Error(), "M_NOT_FOUND")
}
