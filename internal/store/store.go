// Package store keeps the logged-in session in a bbolt file so that
// separate CLI invocations share one login.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dyluth/hieratika/pkg/hieratika"
)

// ErrNoSession is returned by Load when no session has been saved.
var ErrNoSession = errors.New("no saved session")

const (
	bucketSession = "session"
	keyUser       = "user"
	keyServer     = "server"
	keySavedAt    = "saved_at"
)

// Session is what Save persists: the server the user logged into and the
// user returned by Login, token included.
type Session struct {
	Server  string
	User    *hieratika.User
	SavedAt time.Time
}

// Store is a session file. It is safe for concurrent use within a process;
// bbolt's file lock serialises processes.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the session file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketSession))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise session store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the saved session.
func (s *Store) Save(server string, user *hieratika.User) error {
	if user == nil || user.Token == "" {
		return fmt.Errorf("cannot save a session without a token")
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	now, err := time.Now().UTC().MarshalText()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSession))
		if err := b.Put([]byte(keyUser), data); err != nil {
			return err
		}
		if err := b.Put([]byte(keyServer), []byte(server)); err != nil {
			return err
		}
		return b.Put([]byte(keySavedAt), now)
	})
}

// Load returns the saved session or ErrNoSession.
func (s *Store) Load() (*Session, error) {
	var sess Session
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSession))
		data := b.Get([]byte(keyUser))
		if data == nil {
			return ErrNoSession
		}
		var user hieratika.User
		if err := json.Unmarshal(data, &user); err != nil {
			return fmt.Errorf("failed to decode saved user: %w", err)
		}
		sess.User = &user
		sess.Server = string(b.Get([]byte(keyServer)))
		if v := b.Get([]byte(keySavedAt)); v != nil {
			// A corrupt timestamp leaves SavedAt zero.
			_ = sess.SavedAt.UnmarshalText(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Clear forgets the saved session. Clearing an empty store is not an error.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSession))
		for _, k := range []string{keyUser, keyServer, keySavedAt} {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}
