package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MegaGrindStone/maya-chat/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the translator's history Store using a BoltDB backend, so that conversations
// survive a restart of the translator. Every session has a record in the "sessions" bucket and its
// own bucket holding the messages in insertion order.
type BoltDB struct {
	db *bolt.DB
}

type sessionRecord struct {
	ID        string
	CreatedAt time.Time
}

var sessionsBucket = []byte("sessions")

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database
// with required buckets and returns an error if the database cannot be opened or initialized. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create sessions bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

func messageBucketName(sessionID string) []byte {
	return []byte(fmt.Sprintf("session-%s", sessionID))
}

// EnsureSession creates the session if it doesn't exist yet, and reports whether it did.
func (b BoltDB) EnsureSession(_ context.Context, sessionID string) (bool, error) {
	created := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(sessionsBucket)
		if sb.Get([]byte(sessionID)) != nil {
			return nil
		}

		if _, err := tx.CreateBucketIfNotExists(messageBucketName(sessionID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(sessionRecord{ID: sessionID, CreatedAt: time.Now()})
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		created = true
		return sb.Put([]byte(sessionID), v)
	})
	return created, err
}

// Messages retrieves all messages of the session in the order they were added. An unknown session
// has no messages.
func (b BoltDB) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		mb := tx.Bucket(messageBucketName(sessionID))
		if mb == nil {
			return nil
		}

		return mb.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessages appends messages to the session atomically. It returns ErrSessionNotFound when the
// session doesn't exist, e.g. because it was deleted while a reply was streaming.
func (b BoltDB) AddMessages(_ context.Context, sessionID string, messages ...models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		mb := tx.Bucket(messageBucketName(sessionID))
		if mb == nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}

		for _, message := range messages {
			seq, err := mb.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to get next sequence: %w", err)
			}

			v, err := json.Marshal(message)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}

			// Zero padded so the byte order of the keys is the insertion order.
			if err := mb.Put([]byte(fmt.Sprintf("%020d", seq)), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteSession removes the session and all its messages, and reports whether it existed.
func (b BoltDB) DeleteSession(_ context.Context, sessionID string) (bool, error) {
	existed := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket(sessionsBucket)
		if sb.Get([]byte(sessionID)) == nil {
			return nil
		}
		existed = true

		if err := sb.Delete([]byte(sessionID)); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if tx.Bucket(messageBucketName(sessionID)) == nil {
			return nil
		}
		return tx.DeleteBucket(messageBucketName(sessionID))
	})
	return existed, err
}

// Close closes the database.
func (b BoltDB) Close() error {
	return b.db.Close()
}
