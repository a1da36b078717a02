package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bScheduled   = []byte("scheduled")   // key=ledger key, val=unix milli
	bOutstanding = []byte("outstanding") // key=ledger key, val=JSON Entry
)

type boltLedger struct{ db *bolt.DB }

func openBolt(cfg Config) (Ledger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("ledger.path is required for bolt driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bScheduled, bOutstanding} {
			if _, e := tx.CreateBucketIfNotExists(name); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltLedger{db: db}, nil
}

func (l *boltLedger) Scheduled(_ context.Context, key string) (bool, error) {
	found := false
	err := l.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bScheduled).Get([]byte(key)) != nil
		return nil
	})
	return found, l.wrap(err)
}

func (l *boltLedger) MarkScheduled(_ context.Context, e Entry) error {
	if err := checkKey(e.Key); err != nil {
		return err
	}
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bScheduled)
		if b.Get([]byte(e.Key)) != nil {
			return nil
		}
		if err := b.Put([]byte(e.Key), []byte(strconv.FormatInt(time.Now().UnixMilli(), 10))); err != nil {
			return err
		}
		if len(e.Jobs) == 0 {
			return nil
		}
		v, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bOutstanding).Put([]byte(e.Key), v)
	})
	return l.wrap(err)
}

func (l *boltLedger) JobDone(_ context.Context, key, job string) error {
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bOutstanding)
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("decode outstanding %s: %w", key, err)
		}
		e, found := e.done(job)
		if !found {
			return nil
		}
		if len(e.Jobs) == 0 {
			return b.Delete([]byte(key))
		}
		nv, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), nv)
	})
	return l.wrap(err)
}

func (l *boltLedger) Outstanding(context.Context) ([]Entry, error) {
	var out []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bOutstanding).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode outstanding %s: %w", k, err)
			}
			out = append(out, e)
			return nil
		})
	})
	return out, l.wrap(err)
}

func (l *boltLedger) Len(context.Context) (int, error) {
	n := 0
	err := l.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bScheduled).Stats().KeyN
		return nil
	})
	return n, l.wrap(err)
}

func (l *boltLedger) Close() error { return l.db.Close() }

func (l *boltLedger) wrap(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}
