package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/blake2b"

	"github.com/bitfsorg/feerouter-go/address"
	"github.com/bitfsorg/feerouter-go/policy"
	"github.com/bitfsorg/feerouter-go/progress"
)

var (
	bucketStreams  = []byte("streams")
	bucketPolicies = []byte("policies")
	bucketStates   = []byte("states")
)

// BoltStore persists records in a bbolt database. Policy and state records
// are keyed by their derived addresses; each value is a blake2b-256 checksum
// followed by the gob payload.
type BoltStore struct {
	db    *bbolt.DB
	addrs *address.Deriver
}

type stateRecord struct {
	Version uint64
	State   progress.State
}

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string, addrs *address.Deriver) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketStreams, bucketPolicies, bucketStates} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltstore: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}
	return &BoltStore{db: db, addrs: addrs}, nil
}

var _ Store = (*BoltStore)(nil)

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) keys(stream policy.StreamID) (pol, st []byte, err error) {
	pa, err := s.addrs.Policy(stream)
	if err != nil {
		return nil, nil, err
	}
	sa, err := s.addrs.State(stream)
	if err != nil {
		return nil, nil, err
	}
	return pa.Key.Bytes(), sa.Key.Bytes(), nil
}

func (s *BoltStore) Create(ctx context.Context, p *policy.Policy, st *progress.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkCreate(p, st); err != nil {
		return err
	}
	polKey, stKey, err := s.keys(p.StreamID)
	if err != nil {
		return err
	}
	polData, err := seal(p)
	if err != nil {
		return err
	}
	stData, err := seal(&stateRecord{Version: 1, State: *st})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		streams := tx.Bucket(bucketStreams)
		if streams.Get(p.StreamID[:]) != nil {
			return ErrStreamExists
		}
		if err := streams.Put(p.StreamID[:], polKey); err != nil {
			return fmt.Errorf("boltstore: put stream: %w", err)
		}
		if err := tx.Bucket(bucketPolicies).Put(polKey, polData); err != nil {
			return fmt.Errorf("boltstore: put policy: %w", err)
		}
		if err := tx.Bucket(bucketStates).Put(stKey, stData); err != nil {
			return fmt.Errorf("boltstore: put state: %w", err)
		}
		return nil
	})
}

func (s *BoltStore) Load(ctx context.Context, stream policy.StreamID) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	polKey, stKey, err := s.keys(stream)
	if err != nil {
		return nil, err
	}
	var (
		p   policy.Policy
		rec stateRecord
	)
	err = s.db.View(func(tx *bbolt.Tx) error {
		polData := tx.Bucket(bucketPolicies).Get(polKey)
		stData := tx.Bucket(bucketStates).Get(stKey)
		if polData == nil || stData == nil {
			return ErrStreamNotFound
		}
		if err := open(polData, &p); err != nil {
			return fmt.Errorf("boltstore: policy %s: %w", stream, err)
		}
		if err := open(stData, &rec); err != nil {
			return fmt.Errorf("boltstore: state %s: %w", stream, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Record{Policy: &p, State: &rec.State, Version: rec.Version}, nil
}

func (s *BoltStore) CompareAndSwap(ctx context.Context, stream policy.StreamID, expected uint64, st *progress.State) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if st.StreamID != stream {
		return 0, ErrStreamMismatch
	}
	_, stKey, err := s.keys(stream)
	if err != nil {
		return 0, err
	}
	var version uint64
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketStates)
		data := b.Get(stKey)
		if data == nil {
			return ErrStreamNotFound
		}
		var cur stateRecord
		if err := open(data, &cur); err != nil {
			return fmt.Errorf("boltstore: state %s: %w", stream, err)
		}
		if cur.Version != expected {
			return ErrVersionConflict
		}
		version = cur.Version + 1
		next, err := seal(&stateRecord{Version: version, State: *st})
		if err != nil {
			return err
		}
		if err := b.Put(stKey, next); err != nil {
			return fmt.Errorf("boltstore: put state: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *BoltStore) List(ctx context.Context) ([]policy.StreamID, error) {
	var out []policy.StreamID
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStreams).ForEach(func(k, _ []byte) error {
			var id policy.StreamID
			if len(k) != len(id) {
				return fmt.Errorf("%w: stream key length %d", ErrCorruptRecord, len(k))
			}
			copy(id[:], k)
			out = append(out, id)
			return nil
		})
	})
	return out, err
}

// seal gob-encodes v and prefixes the blake2b-256 checksum of the payload.
func seal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("boltstore: encode: %w", err)
	}
	sum := blake2b.Sum256(buf.Bytes())
	return append(sum[:], buf.Bytes()...), nil
}

// open verifies the checksum of data and gob-decodes the payload into v.
func open(data []byte, v any) error {
	if len(data) < blake2b.Size256 {
		return fmt.Errorf("%w: short record", ErrCorruptRecord)
	}
	payload := data[blake2b.Size256:]
	sum := blake2b.Sum256(payload)
	if !bytes.Equal(sum[:], data[:blake2b.Size256]) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptRecord)
	}
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return nil
}
