// Package jid implements the Job ID catalog of spec §3/§6: an
// immutable mapping from job ID to its recipient template, plus the
// separate "current message list" of the IDs presently live.
//
// Unlike FSA/FRA/QB/MDB, the catalog is append-only and never mutated
// in place once written, so it is backed by an embedded durable
// key/value store (bbolt) rather than a raw mmap array — the natural
// Go fit for "write once, read by key forever" (see DESIGN.md).
package jid

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var recordsBucket = []byte("jid_records")

// Record is one JobID record (spec §3 "JobID record").
type Record struct {
	JobID        uint32   `json:"job_id"`
	DirID        uint32   `json:"dir_id"`
	Priority     byte     `json:"priority"`
	Recipient    string   `json:"recipient"`
	NoOfLOptions int      `json:"no_of_loptions"`
	Options      []string `json:"options"`
}

// Catalog is the attached, immutable job-ID database.
type Catalog struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the catalog at path.
func Open(path string) (*Catalog, error) {
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("jid: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

// Close closes the catalog.
func (c *Catalog) Close() error { return c.db.Close() }

func key(jobID uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, jobID)
	return b
}

// Put writes rec, failing if jobID already exists — the catalog is
// immutable once written (spec §3 invariant).
func (c *Catalog) Put(rec Record) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		if existing := b.Get(key(rec.JobID)); existing != nil {
			return fmt.Errorf("jid: job id %d already exists (catalog is immutable)", rec.JobID)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key(rec.JobID), data)
	})
}

// Get looks up a job ID's recipient template.
func (c *Catalog) Get(jobID uint32) (Record, bool, error) {
	var rec Record
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		data := b.Get(key(jobID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

// CurrentList is the separate "current message list" file: the set of
// job IDs presently active, written by the config compiler and
// consumed by the dispatcher per spec §6. No WRITTING_JID_STRUCT
// handshake is implemented, here or in internal/afdstatus.
type CurrentList struct {
	IDs []uint32
}

// Contains reports whether id is in the current list.
func (l *CurrentList) Contains(id uint32) bool {
	for _, v := range l.IDs {
		if v == id {
			return true
		}
	}
	return false
}
