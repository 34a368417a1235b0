package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

type boltRecord struct {
	Expires time.Time       `json:"expires"`
	Data    json.RawMessage `json:"data"`
}

// BoltStore keeps sessions in a single-file bbolt database.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Load(_ context.Context, id string) (*Data, error) {
	var rec boltRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(sessionsBucket).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !s.now().Before(rec.Expires) {
		return nil, ErrNotFound
	}
	return decode(rec.Data)
}

func (s *BoltStore) Save(_ context.Context, id string, d *Data, ttl time.Duration) error {
	data, err := encode(d)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(boltRecord{Expires: s.now().Add(ttl), Data: data})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(id), raw)
	})
}

func (s *BoltStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	})
}

func (s *BoltStore) DeleteExpired(_ context.Context) (int, error) {
	now := s.now()
	n := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil || !now.Before(rec.Expires) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(expired)
		return nil
	})
	return n, err
}
