// Package store provides an optional BoltDB-backed dedup-marker surface.
//
// The in-memory surfaces die with the process; a deployment that wants
// markers to survive restarts points CHECKOUT_DEDUP_DB_PATH at a file and
// this surface joins the dispatcher's check-all/mark-all composite. BoltDB
// keeps everything in a single file, so no external database process is
// needed.
package store

import (
	"encoding/json"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/zoobzio/clockz"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

const markerBucket = "dedup_markers"

type marker struct {
	SentAt    time.Time `json:"sentAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// BoltSurface persists (chargeId, kind) markers with a bounded window. The
// window outlives the credential TTL so a replayed request after credential
// expiry still cannot double-fire a notification.
type BoltSurface struct {
	db     *bolt.DB
	window time.Duration
	clock  clockz.Clock
}

// Open opens (or creates) the marker database and ensures the bucket
// exists. Creating the bucket is idempotent and safe on every startup.
func Open(path string, window time.Duration, clock clockz.Clock) (*BoltSurface, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if clock == nil {
		clock = clockz.RealClock
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(markerBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltSurface{db: db, window: window, clock: clock}, nil
}

// Close releases the database file lock.
func (s *BoltSurface) Close() error {
	return s.db.Close()
}

func markerKey(chargeID string, kind entity.NotificationKind) []byte {
	return []byte(chargeID + "/" + string(kind))
}

// Sent reports whether a live marker exists. Read errors fail open: a
// broken marker store must not block the confirmation page, and the other
// surfaces still guard the send.
func (s *BoltSurface) Sent(chargeID string, kind entity.NotificationKind) bool {
	var m marker
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(markerBucket)).Get(markerKey(chargeID, kind))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return false
	}
	return s.clock.Now().Before(m.ExpiresAt)
}

// MarkSent writes a marker. Markers are append-only: an existing live
// marker is left untouched.
func (s *BoltSurface) MarkSent(chargeID string, kind entity.NotificationKind) {
	now := s.clock.Now()
	_ = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(markerBucket))
		key := markerKey(chargeID, kind)

		if existing := b.Get(key); existing != nil {
			var m marker
			if json.Unmarshal(existing, &m) == nil && now.Before(m.ExpiresAt) {
				return nil
			}
		}

		data, err := json.Marshal(marker{SentAt: now, ExpiresAt: now.Add(s.window)})
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// Sweep removes expired markers and reports how many were deleted.
func (s *BoltSurface) Sweep() int {
	now := s.clock.Now()
	removed := 0

	_ = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(markerBucket))
		var stale [][]byte

		err := b.ForEach(func(k, v []byte) error {
			var m marker
			if json.Unmarshal(v, &m) != nil || !now.Before(m.ExpiresAt) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range stale {
			if err := b.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})

	return removed
}
