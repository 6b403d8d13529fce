package tickets

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/artstore/pkg/errdefs"
	"github.com/cuemby/artstore/pkg/types"
)

// RestoredTTL is how long a restored copy stays addressable via its ticket
const RestoredTTL = 30 * 24 * time.Hour

var (
	bucketTickets = []byte("tickets")
	bucketByFile  = []byte("tickets_by_file")
)

// Store keeps restore tickets in a local bbolt file
type Store struct {
	db *bolt.DB
}

// Open creates or opens the ticket store at path
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open ticket store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTickets); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketByFile)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ticket store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file
func (s *Store) Close() error {
	return s.db.Close()
}

// Create opens a pending ticket for a file. If a pending ticket already
// exists for the file it is returned instead, so repeated downloads of an
// archived object share one rehydration request.
func (s *Store) Create(fileID, requestedBy string) (*types.RestoreTicket, error) {
	var ticket *types.RestoreTicket
	err := s.db.Update(func(tx *bolt.Tx) error {
		byFile := tx.Bucket(bucketByFile)
		if existing := byFile.Get([]byte(fileID)); existing != nil {
			data := tx.Bucket(bucketTickets).Get(existing)
			if data != nil {
				var t types.RestoreTicket
				if err := json.Unmarshal(data, &t); err == nil && t.Status == types.RestorePending {
					ticket = &t
					return nil
				}
			}
		}

		ticket = &types.RestoreTicket{
			TicketID:    uuid.NewString(),
			FileID:      fileID,
			RequestedBy: requestedBy,
			Status:      types.RestorePending,
			CreatedAt:   time.Now().UTC(),
		}
		data, err := json.Marshal(ticket)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTickets).Put([]byte(ticket.TicketID), data); err != nil {
			return err
		}
		return byFile.Put([]byte(fileID), []byte(ticket.TicketID))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create restore ticket: %w", err)
	}
	return ticket, nil
}

// Get returns one ticket by id
func (s *Store) Get(ticketID string) (*types.RestoreTicket, error) {
	var ticket types.RestoreTicket
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTickets).Get([]byte(ticketID))
		if data == nil {
			return errdefs.Newf(errdefs.KindNotFound, "restore ticket %s not found", ticketID)
		}
		return json.Unmarshal(data, &ticket)
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// MarkRestored records that the bytes landed on the target element. The
// 30-day expiry window starts now.
func (s *Store) MarkRestored(ticketID, targetElementID string) (*types.RestoreTicket, error) {
	var ticket types.RestoreTicket
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTickets)
		data := b.Get([]byte(ticketID))
		if data == nil {
			return errdefs.Newf(errdefs.KindNotFound, "restore ticket %s not found", ticketID)
		}
		if err := json.Unmarshal(data, &ticket); err != nil {
			return err
		}
		if ticket.Status != types.RestorePending {
			return errdefs.Newf(errdefs.KindInvalidTransition,
				"restore ticket %s is %s, expected pending", ticketID, ticket.Status)
		}
		now := time.Now().UTC()
		expires := now.Add(RestoredTTL)
		ticket.Status = types.RestoreRestored
		ticket.TargetElementID = targetElementID
		ticket.RestoredAt = &now
		ticket.ExpiresAt = &expires

		out, err := json.Marshal(&ticket)
		if err != nil {
			return err
		}
		return b.Put([]byte(ticketID), out)
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// PurgeExpired marks restored tickets past their expiry window as expired
// and drops the file index entry so a later download opens a fresh ticket.
// Returns how many tickets were expired.
func (s *Store) PurgeExpired(now time.Time) (int, error) {
	expired := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTickets)
		byFile := tx.Bucket(bucketByFile)

		// Mutating a bucket from inside its own ForEach is undefined in
		// bbolt; collect the victims first, write after the scan.
		var victims []types.RestoreTicket
		err := b.ForEach(func(_, v []byte) error {
			var t types.RestoreTicket
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			if t.Status != types.RestoreRestored || t.ExpiresAt == nil || now.Before(*t.ExpiresAt) {
				return nil
			}
			victims = append(victims, t)
			return nil
		})
		if err != nil {
			return err
		}

		for i := range victims {
			t := &victims[i]
			t.Status = types.RestoreExpired
			out, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(t.TicketID), out); err != nil {
				return err
			}
			if err := byFile.Delete([]byte(t.FileID)); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge restore tickets: %w", err)
	}
	return expired, nil
}
