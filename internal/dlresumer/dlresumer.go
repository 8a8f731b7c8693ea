// Package dlresumer implements the "persisted download state" scheduler
// collaborator from spec.md §6, backed by a bolt database the way the
// teacher persists torrent resume state: two top-level buckets, "dlitems"
// holding one JSON record per DLItem keyed by TTH, and "dlsources" holding
// one record per source keyed by the item's TTH followed by the uid.
package dlresumer

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"github.com/boltdb/bolt"

	"github.com/kprimus/dcshare/internal/dlerr"
	"github.com/kprimus/dcshare/internal/tth"
)

var (
	itemsBucket   = []byte("dlitems")
	sourcesBucket = []byte("dlsources")
)

// DLRecord is one row of list_dls(), per spec.md §6.
type DLRecord struct {
	TTH       tth.Hash
	Size      uint64
	Dest      string
	Priority  int
	ErrCode   dlerr.Code
	ErrMsg    string
	TTHL      []tth.Hash
	BlockSize int64
	Bitmap    []bool
}

// SourceRecord is one row of list_dl_sources(), per spec.md §6.
type SourceRecord struct {
	TTH     tth.Hash
	UID     uint64
	ErrCode dlerr.Code
	ErrMsg  string
}

type itemDoc struct {
	Size      uint64
	Dest      string
	Priority  int
	ErrCode   dlerr.Code
	ErrMsg    string
	TTHL      []byte
	BlockSize int64
	Bitmap    []bool
	Created   time.Time
}

type sourceDoc struct {
	ErrCode dlerr.Code
	ErrMsg  string
}

// Resumer is a bolt-backed implementation of the scheduler's persisted
// download state collaborator.
type Resumer struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bolt database at path and ensures
// the top-level buckets exist.
func Open(path string) (*Resumer, error) {
	db, err := bolt.Open(path, 0640, &bolt.Options{Timeout: time.Second})
	if err == bolt.ErrTimeout {
		return nil, errors.New("dlresumer: database is locked by another process")
	}
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(itemsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(sourcesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Resumer{db: db}, nil
}

// Close closes the underlying database.
func (r *Resumer) Close() error { return r.db.Close() }

// InsertDL records a newly queued DLItem.
func (r *Resumer) InsertDL(h tth.Hash, size uint64, dest string, priority int) error {
	doc := itemDoc{Size: size, Dest: dest, Priority: priority, Created: time.Now()}
	return r.putItem(h, doc)
}

// SetStatus updates a DLItem's priority and per-item error, per
// spec.md §6's set_status.
func (r *Resumer) SetStatus(h tth.Hash, priority int, errCode dlerr.Code, errMsg string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(itemsBucket)
		raw := b.Get(h[:])
		if raw == nil {
			return errors.New("dlresumer: unknown DLItem")
		}
		var doc itemDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		doc.Priority = priority
		doc.ErrCode = errCode
		doc.ErrMsg = errMsg
		return putJSON(b, h[:], doc)
	})
}

// SetUErr records a per-source error, per spec.md §6's set_uerr.
func (r *Resumer) SetUErr(uid uint64, h tth.Hash, errCode dlerr.Code, errMsg string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sourcesBucket)
		key := sourceKey(uid, h)
		doc := sourceDoc{ErrCode: errCode, ErrMsg: errMsg}
		return putJSON(b, key, doc)
	})
}

// SetTTHL persists a DLItem's acquired and (if applicable) compacted
// TTHL array, per spec.md §6's set_tthl.
func (r *Resumer) SetTTHL(h tth.Hash, leaves []tth.Hash) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(itemsBucket)
		raw := b.Get(h[:])
		if raw == nil {
			return errors.New("dlresumer: unknown DLItem")
		}
		var doc itemDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		doc.TTHL = encodeLeaves(leaves)
		return putJSON(b, h[:], doc)
	})
}

// SetBitmap persists a DLItem's current block-verification bitmap and block
// size, per spec.md:109's requirement that the bitmap "is scheduled for
// flush to durable storage (debounced)" on every verified block; callers
// debounce via persistDebouncer rather than calling this on every block.
func (r *Resumer) SetBitmap(h tth.Hash, blockSize int64, bitmap []bool) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(itemsBucket)
		raw := b.Get(h[:])
		if raw == nil {
			return errors.New("dlresumer: unknown DLItem")
		}
		var doc itemDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		doc.BlockSize = blockSize
		doc.Bitmap = append([]bool(nil), bitmap...)
		return putJSON(b, h[:], doc)
	})
}

// RemoveDL deletes a DLItem and every source pairing for it.
func (r *Resumer) RemoveDL(h tth.Hash) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(itemsBucket).Delete(h[:]); err != nil {
			return err
		}
		b := tx.Bucket(sourcesBucket)
		c := b.Cursor()
		prefix := h[:]
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveUser deletes the source pairing for (uid, h).
func (r *Resumer) RemoveUser(uid uint64, h tth.Hash) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sourcesBucket).Delete(sourceKey(uid, h))
	})
}

// ListDLs returns every persisted DLItem, per spec.md §6's list_dls.
func (r *Resumer) ListDLs() ([]DLRecord, error) {
	var out []DLRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(itemsBucket)
		return b.ForEach(func(k, v []byte) error {
			var doc itemDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			var h tth.Hash
			copy(h[:], k)
			out = append(out, DLRecord{
				TTH: h, Size: doc.Size, Dest: doc.Dest, Priority: doc.Priority,
				ErrCode: doc.ErrCode, ErrMsg: doc.ErrMsg,
				TTHL: DecodeLeaves(doc.TTHL), BlockSize: doc.BlockSize, Bitmap: doc.Bitmap,
			})
			return nil
		})
	})
	return out, err
}

// ListDLSources returns every persisted source pairing, per spec.md §6's
// list_dl_sources.
func (r *Resumer) ListDLSources() ([]SourceRecord, error) {
	var out []SourceRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sourcesBucket)
		return b.ForEach(func(k, v []byte) error {
			if len(k) != tth.Size+8 {
				return nil
			}
			var doc sourceDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			var h tth.Hash
			copy(h[:], k[:tth.Size])
			uid := binary.BigEndian.Uint64(k[tth.Size:])
			out = append(out, SourceRecord{TTH: h, UID: uid, ErrCode: doc.ErrCode, ErrMsg: doc.ErrMsg})
			return nil
		})
	})
	return out, err
}

func (r *Resumer) putItem(h tth.Hash, doc itemDoc) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(itemsBucket), h[:], doc)
	})
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func sourceKey(uid uint64, h tth.Hash) []byte {
	key := make([]byte, tth.Size+8)
	copy(key, h[:])
	binary.BigEndian.PutUint64(key[tth.Size:], uid)
	return key
}

func encodeLeaves(leaves []tth.Hash) []byte {
	out := make([]byte, len(leaves)*tth.Size)
	for i, l := range leaves {
		copy(out[i*tth.Size:], l[:])
	}
	return out
}

// DecodeLeaves reverses encodeLeaves, for callers that read a DLItem's
// raw TTHL bytes back out of a DLRecord-adjacent lookup.
func DecodeLeaves(raw []byte) []tth.Hash {
	out := make([]tth.Hash, len(raw)/tth.Size)
	for i := range out {
		copy(out[i][:], raw[i*tth.Size:(i+1)*tth.Size])
	}
	return out
}
