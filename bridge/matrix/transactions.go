package matrix

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/42wim/autoacceptd/bridge"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru"
	"maunium.net/go/mautrix/id"
)

const recentEventsSize = 1024

type errorResponse struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}

// TransactionServer receives the events the homeserver pushes to the
// application service and dispatches them to the handlers registered on m.
type TransactionServer struct {
	m      *Matrix
	ledger *Ledger
	router *mux.Router

	// recentEvents holds IDs of events already dispatched, a transaction
	// retried before it was marked done may repeat them.
	recentEvents *lru.Cache
}

func NewTransactionServer(m *Matrix, ledger *Ledger) *TransactionServer {
	s := &TransactionServer{
		m:      m,
		ledger: ledger,
		router: mux.NewRouter(),
	}
	s.recentEvents, _ = lru.New(recentEventsSize)

	s.router.HandleFunc("/_matrix/app/v1/transactions/{txnID}", s.putTransaction).Methods(http.MethodPut)
	s.router.HandleFunc("/transactions/{txnID}", s.putTransaction).Methods(http.MethodPut)
	s.router.HandleFunc("/_matrix/app/v1/ping", s.ping).Methods(http.MethodPost)
	s.router.Use(s.authenticate)

	return s
}

func (s *TransactionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *TransactionServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.m.credentials.HSToken)) != 1 {
			logger.Warnf("rejecting %s %s from %s: bad hs_token", r.Method, r.URL.Path, r.RemoteAddr)
			writeJSON(w, http.StatusForbidden, errorResponse{ErrCode: "M_FORBIDDEN", Error: "bad token"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *TransactionServer) putTransaction(w http.ResponseWriter, r *http.Request) {
	txn := bridge.Transaction{ID: mux.Vars(r)["txnID"]}

	if s.ledger.Done(txn.ID) {
		logger.Debugf("transaction %s already handled", txn.ID)
		writeJSON(w, http.StatusOK, struct{}{})

		return
	}

	if err := json.NewDecoder(r.Body).Decode(&txn); err != nil {
		logger.Errorf("transaction %s: %s", txn.ID, err)
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrCode: "M_NOT_JSON", Error: err.Error()})

		return
	}

	logger.Debugf("transaction %s with %d event(s)", txn.ID, len(txn.Events))

	// handlers must not be cut short when the homeserver gives up waiting
	ctx := context.Background()

	for _, ev := range txn.Events {
		if ev == nil {
			continue
		}

		if s.seen(ev.ID) {
			logger.Debugf("skipping already dispatched event %s", ev.ID)
			continue
		}

		s.m.dispatch(ctx, ev)
	}

	if err := s.ledger.MarkDone(txn.ID, time.Now()); err != nil {
		logger.Errorf("marking transaction %s done: %s", txn.ID, err)
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *TransactionServer) seen(eventID id.EventID) bool {
	if eventID == "" {
		return false
	}

	found, _ := s.recentEvents.ContainsOrAdd(eventID, struct{}{})

	return found
}

func (s *TransactionServer) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct{}{})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("writing response: %s", err)
	}
}
