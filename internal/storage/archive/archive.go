// Package archive stores terminal payments in a bbolt file so they outlive
// the engine's in-memory history.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/LeJamon/xrplwatch/internal/payment"
	"go.etcd.io/bbolt"
)

var (
	ErrClosed = errors.New("archive is closed")

	paymentsBucket = []byte("payments")
	hashesBucket   = []byte("hashes")
)

// Archive is a bbolt-backed payment.Archive. Payment ids are K-sortable, so
// iteration order is creation order.
type Archive struct {
	db *bbolt.DB
}

var _ payment.Archive = (*Archive)(nil)

// Open creates or opens the archive file at path.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{paymentsBucket, hashesBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create archive buckets: %w", err)
	}
	return &Archive{db: db}, nil
}

// Put stores p, replacing any earlier record with the same id.
func (a *Archive) Put(p payment.Payment) error {
	if a.db == nil {
		return ErrClosed
	}
	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode payment %s: %w", p.ID, err)
	}

	return a.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(paymentsBucket).Put([]byte(p.ID), value); err != nil {
			return err
		}
		if p.Hash != "" {
			return tx.Bucket(hashesBucket).Put([]byte(p.Hash), []byte(p.ID))
		}
		return nil
	})
}

// Get returns the payment with the given id, or an error wrapping
// payment.ErrPaymentNotFound.
func (a *Archive) Get(id string) (payment.Payment, error) {
	if a.db == nil {
		return payment.Payment{}, ErrClosed
	}

	var p payment.Payment
	err := a.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(paymentsBucket).Get([]byte(id))
		if value == nil {
			return fmt.Errorf("%w: %s", payment.ErrPaymentNotFound, id)
		}
		// value is only valid inside the transaction; Unmarshal copies it.
		return json.Unmarshal(value, &p)
	})
	return p, err
}

// ByHash resolves a ledger transaction hash to its payment.
func (a *Archive) ByHash(hash string) (payment.Payment, error) {
	if a.db == nil {
		return payment.Payment{}, ErrClosed
	}

	var id []byte
	err := a.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(hashesBucket).Get([]byte(hash))
		if v == nil {
			return fmt.Errorf("%w: hash %s", payment.ErrPaymentNotFound, hash)
		}
		id = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return payment.Payment{}, err
	}
	return a.Get(string(id))
}

// ForEach visits archived payments in creation order until fn returns false.
func (a *Archive) ForEach(fn func(payment.Payment) bool) error {
	if a.db == nil {
		return ErrClosed
	}

	return a.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(paymentsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var p payment.Payment
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("failed to decode payment %s: %w", k, err)
			}
			if !fn(p) {
				return nil
			}
		}
		return nil
	})
}

// Prune deletes payments last updated before cutoff and returns how many
// were removed.
func (a *Archive) Prune(cutoff time.Time) (int, error) {
	if a.db == nil {
		return 0, ErrClosed
	}

	n := 0
	err := a.db.Update(func(tx *bbolt.Tx) error {
		payments := tx.Bucket(paymentsBucket)
		hashes := tx.Bucket(hashesBucket)

		var stale []payment.Payment
		err := payments.ForEach(func(k, v []byte) error {
			var p payment.Payment
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.UpdatedAt.Before(cutoff) {
				stale = append(stale, p)
			}
			return nil
		})
		if err != nil {
			return err
		}

		// Deleting while iterating a bucket is not allowed.
		for _, p := range stale {
			if err := payments.Delete([]byte(p.ID)); err != nil {
				return err
			}
			if p.Hash != "" {
				if err := hashes.Delete([]byte(p.Hash)); err != nil {
					return err
				}
			}
			n++
		}
		return nil
	})
	return n, err
}

func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}
