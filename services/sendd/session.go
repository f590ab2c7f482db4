package sendd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"payconfirm/core/invoice"
)

// ErrSessionEmpty is returned when no payment request is held.
var ErrSessionEmpty = errors.New("sendd: no payment request in session")

var (
	sessionPrefix     = []byte("send/")
	keyPaymentRequest = []byte("send/payment_request")
)

// SessionStore holds the ambient payment request for the active workflow.
// It survives daemon restarts so an abandoned request is still cleared.
type SessionStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

// OpenSessionStore opens or creates the LevelDB session at path. An empty path
// keeps the session in memory.
func OpenSessionStore(path string) (*SessionStore, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &SessionStore{db: db}, nil
}

// Close releases the underlying database.
func (s *SessionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put replaces the held payment request.
func (s *SessionStore) Put(_ context.Context, req invoice.PaymentRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode payment request: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(keyPaymentRequest, data, nil)
}

// Load returns the held payment request.
func (s *SessionStore) Load(_ context.Context) (invoice.PaymentRequest, error) {
	s.mu.Lock()
	data, err := s.db.Get(keyPaymentRequest, nil)
	s.mu.Unlock()
	if errors.Is(err, leveldb.ErrNotFound) {
		return invoice.PaymentRequest{}, ErrSessionEmpty
	}
	if err != nil {
		return invoice.PaymentRequest{}, fmt.Errorf("read payment request: %w", err)
	}
	var req invoice.PaymentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return invoice.PaymentRequest{}, fmt.Errorf("decode payment request: %w", err)
	}
	return req, nil
}

// Clear removes every session key. It is safe to call on an empty session.
func (s *SessionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iter := s.db.NewIterator(util.BytesPrefix(sessionPrefix), nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("scan session: %w", err)
	}
	if batch.Len() == 0 {
		return nil
	}
	return s.db.Write(batch, nil)
}
