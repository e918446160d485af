package bridge

import (
	"maunium.net/go/mautrix/event"
)

// Credentials of the application service registration.
type Credentials struct {
	// Server is the client-server API base URL of the homeserver.
	Server string
	// ServerName is the homeserver's name, the part after ':' in local
	// user IDs.
	ServerName string
	// ASToken authenticates us to the homeserver.
	ASToken string
	// HSToken authenticates the homeserver to us.
	HSToken string
	// Sender is the localpart of the registration's sender user.
	Sender string
}

// Transaction is a batch of events pushed by the homeserver.
type Transaction struct {
	ID     string         `json:"-"`
	Events []*event.Event `json:"events"`
}
