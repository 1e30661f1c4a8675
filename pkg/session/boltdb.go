package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSessions    = []byte("sessions")
	bucketInvitations = []byte("invitations")
)

// BoltBackend persists sessions in a BoltDB file so they survive restarts
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (or creates) tenantcast.db under dataDir
func NewBoltBackend(dataDir string) (*BoltBackend, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "tenantcast.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSessions, bucketInvitations} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltBackend{db: db}, nil
}

// NewBoltStore is shorthand for a Manager over a BoltBackend
func NewBoltStore(dataDir string, opts Options) (*Manager, error) {
	backend, err := NewBoltBackend(dataDir)
	if err != nil {
		return nil, err
	}
	return NewManager(backend, opts), nil
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}

func (b *BoltBackend) put(bucket []byte, key string, v any) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (b *BoltBackend) delete(bucket []byte, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// Session operations
func (b *BoltBackend) LoadSession(id string) (*Session, error) {
	var s Session
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(id))
		if data == nil {
			return ErrSessionNotFound
		}
		return json.Unmarshal(data, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *BoltBackend) SaveSession(s *Session) error {
	return b.put(bucketSessions, s.ID, s)
}

func (b *BoltBackend) DeleteSession(id string) error {
	return b.delete(bucketSessions, id)
}

// Invitation operations
func (b *BoltBackend) LoadInvitation(id string) (*Invitation, error) {
	var inv Invitation
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketInvitations).Get([]byte(id))
		if data == nil {
			return ErrInvitationNotFound
		}
		return json.Unmarshal(data, &inv)
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (b *BoltBackend) SaveInvitation(inv *Invitation) error {
	return b.put(bucketInvitations, inv.ID, inv)
}

func (b *BoltBackend) DeleteInvitation(id string) error {
	return b.delete(bucketInvitations, id)
}

func (b *BoltBackend) ListInvitations() ([]*Invitation, error) {
	var invitations []*Invitation
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInvitations).ForEach(func(k, v []byte) error {
			var inv Invitation
			if err := json.Unmarshal(v, &inv); err != nil {
				return err
			}
			invitations = append(invitations, &inv)
			return nil
		})
	})
	return invitations, err
}
