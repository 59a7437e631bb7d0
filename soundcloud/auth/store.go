package auth

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	tokenBucketName = []byte("tokens")
	refreshKeyName  = []byte("refresh")
)

// RefreshTokenStore persists the rotated refresh token between runs.
type RefreshTokenStore interface {
	Read() (string, error)
	Write(token string) error
}

// BoltTokenStore keeps the refresh token in a local bbolt database so a
// rotation survives restarts even when the operator's environment still
// carries the superseded token.
type BoltTokenStore struct {
	db *bbolt.DB
}

func NewBoltTokenStore(path string) (*BoltTokenStore, error) {
	opts := &bbolt.Options{ //nolint:exhaustruct
		NoFreelistSync: true,
		ReadOnly:       false,
		Timeout:        1 * time.Second,
		NoGrowSync:     false,
		FreelistType:   bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0o600, opts)
	if nil != err {
		return nil, fmt.Errorf("failed to open token database: %v", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokenBucketName)
		if nil != err {
			return fmt.Errorf("failed to create tokens bucket: %v", err)
		}

		return nil
	})
	if nil != err {
		return nil, fmt.Errorf("failed to create buckets: %v", err)
	}

	return &BoltTokenStore{db: db}, nil
}

func (s *BoltTokenStore) Read() (string, error) {
	var token string
	err := s.db.View(func(tx *bbolt.Tx) error {
		token = string(tx.Bucket(tokenBucketName).Get(refreshKeyName))

		return nil
	})
	if nil != err {
		return "", fmt.Errorf("failed to read refresh token: %v", err)
	}

	return token, nil
}

func (s *BoltTokenStore) Write(token string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(tokenBucketName).Put(refreshKeyName, []byte(token)); nil != err {
			return fmt.Errorf("failed to put refresh token: %v", err)
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to write refresh token: %v", err)
	}

	return nil
}

func (s *BoltTokenStore) Close() error {
	if err := s.db.Close(); nil != err {
		return fmt.Errorf("failed to close token database: %v", err)
	}

	return nil
}
