package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	commitsBucket = []byte("Commits")
	pendingBucket = []byte("Pending")
	intentKey     = []byte("intent")
)

// Commit is one manifest entry, written after every flush that touched disk.
// Digests are only set on sealed entries, written when the store closes
// cleanly; they describe the arrays at exactly ValidRows/NoiseRows.
// The flush intent is a pending Commit kept outside the log: it records the
// counts a flush is heading to, and the counts it started from in Base*.
type Commit struct {
	Seq         uint64    `json:"seq"`
	Format      string    `json:"format"`
	Width       int       `json:"width"`
	ValidRows   int64     `json:"valid_rows"`
	NoiseRows   int64     `json:"noise_rows"`
	Cursor      int64     `json:"cursor"`
	Sealed      bool      `json:"sealed"`
	Pending     bool      `json:"pending,omitempty"`
	BaseValid   int64     `json:"base_valid_rows,omitempty"`
	BaseNoise   int64     `json:"base_noise_rows,omitempty"`
	ValidDigest string    `json:"valid_digest,omitempty"`
	NoiseDigest string    `json:"noise_digest,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// manifest keeps the commit log of one dataset in a bbolt database.
type manifest struct {
	db *bbolt.DB
}

func openManifest(path string) (*manifest, error) {
	db, err := openDB(path, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(commitsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(pendingBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &manifest{db: db}, nil
}

func openManifestReadOnly(path string) (*manifest, error) {
	db, err := openDB(path, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	err = db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(commitsBucket) == nil {
			return fmt.Errorf("%w: %s has no commits bucket", ErrCorruptArray, path)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &manifest{db: db}, nil
}

func openDB(path string, opts *bbolt.Options) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0600, opts)
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrStoreLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest database: %w", err)
	}
	return db, nil
}

func (m *manifest) Close() error {
	return m.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Append stores c under the next sequence number and returns it.
func (m *manifest) Append(c Commit) (Commit, error) {
	err := m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(commitsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		c.Seq = seq
		if c.CommittedAt.IsZero() {
			c.CommittedAt = time.Now().UTC()
		}
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal commit: %w", err)
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}
		return tx.Bucket(pendingBucket).Delete(intentKey)
	})
	return c, err
}

// SetPending records the intent of a flush about to append.
func (m *manifest) SetPending(c Commit) error {
	c.Pending = true
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}
	return m.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pendingBucket).Put(intentKey, data)
	})
}

// Pending returns the intent of a flush that never committed.
func (m *manifest) Pending() (Commit, bool, error) {
	var c Commit
	var ok bool
	err := m.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(pendingBucket)
		if b == nil {
			return nil
		}
		v := b.Get(intentKey)
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &c)
	})
	return c, ok, err
}

// ClearPending drops the flush intent without committing.
func (m *manifest) ClearPending() error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pendingBucket).Delete(intentKey)
	})
}

// Latest returns the newest commit; ok is false for an empty manifest.
func (m *manifest) Latest() (Commit, bool, error) {
	var c Commit
	var ok bool
	err := m.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(commitsBucket).Cursor().Last()
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &c)
	})
	return c, ok, err
}

// History returns all commits, oldest first.
func (m *manifest) History() ([]Commit, error) {
	var out []Commit
	err := m.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(commitsBucket).ForEach(func(_, v []byte) error {
			var c Commit
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	return out, err
}
