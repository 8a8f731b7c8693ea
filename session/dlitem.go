package session

import (
	"sync"
	"time"

	"github.com/kprimus/dcshare/internal/dlerr"
	"github.com/kprimus/dcshare/internal/netconn"
	"github.com/kprimus/dcshare/internal/tth"
)

// UserState is the per-user download state machine from spec.md §4.2.
type UserState int

const (
	// StateNCO: not connected.
	StateNCO UserState = iota
	// StateEXP: connecting, expecting handshake.
	StateEXP
	// StateIDL: connected, idle.
	StateIDL
	// StateACT: downloading.
	StateACT
	// StateWAI: wait-before-reconnect after failure or loss.
	StateWAI
)

func (s UserState) String() string {
	switch s {
	case StateNCO:
		return "NCO"
	case StateEXP:
		return "EXP"
	case StateIDL:
		return "IDL"
	case StateACT:
		return "ACT"
	case StateWAI:
		return "WAI"
	default:
		return "?"
	}
}

// DLItem is a single file (or file list) queued for download, keyed by
// its content hash, per spec.md §3.
type DLItem struct {
	TTH      tth.Hash
	Size     uint64
	Dest     string
	IsList   bool
	Priority dlerr.Priority
	ItemErr  dlerr.Code
	ItemMsg  string

	// Segmented-download state (C3), guarded by mu since block completion
	// callbacks arrive from bulk-transfer workers.
	mu            sync.Mutex
	Have          uint64
	ActiveThreads int
	Bitmap        []bool
	TTHL          []tth.Hash
	BlockSize     int64
	Complete      bool
	RenamedOnce   bool

	Sources map[uint64]*DLSource // keyed by uid

	// persist, if set, is marked dirty whenever the bitmap changes so a
	// crash or restart never silently loses verified-block progress
	// (spec.md:109).
	persist *persistDebouncer
}

// NewDLItem constructs a queued DLItem. The item starts without a known
// TTHL (acquired lazily per spec.md §4.3).
func NewDLItem(h tth.Hash, size uint64, dest string, isList bool) *DLItem {
	return &DLItem{
		TTH: h, Size: size, Dest: dest, IsList: isList,
		Priority: dlerr.PrioMedium,
		Sources:  make(map[uint64]*DLSource),
	}
}

// EnsureBitmap prepares the block bitmap and TTHL once the item's size
// and block size are known, per spec.md §4.3.
func (d *DLItem) EnsureBitmap(blockSize int64, leaves []tth.Hash) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Bitmap != nil {
		return
	}
	d.BlockSize = blockSize
	d.TTHL = leaves
	numBlocks := int((d.Size + uint64(blockSize) - 1) / uint64(blockSize))
	if numBlocks == 0 {
		numBlocks = 1
	}
	d.Bitmap = make([]bool, numBlocks)
	d.markDirtyLocked()
}

// MarkBlockVerified flips a block's bit and advances Have, per spec.md
// §4.3's verification protocol ("match: the block's bit flips to 1; have
// increments").
func (d *DLItem) MarkBlockVerified(blockIdx int, blockLen int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if blockIdx < 0 || blockIdx >= len(d.Bitmap) || d.Bitmap[blockIdx] {
		return
	}
	d.Bitmap[blockIdx] = true
	d.Have += uint64(blockLen)
	if d.Have == d.Size {
		d.Complete = true
	}
	d.markDirtyLocked()
}

// ClearBlocksOnMismatch clears the bits for a failed range, per spec.md
// §4.3 ("mismatch: the bits for all affected blocks are cleared").
func (d *DLItem) ClearBlocksOnMismatch(fromBlock, toBlock int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := fromBlock; i <= toBlock && i < len(d.Bitmap); i++ {
		if d.Bitmap[i] {
			d.Bitmap[i] = false
			d.Have -= uint64(d.BlockSize)
		}
	}
	d.Complete = false
	d.markDirtyLocked()
}

// markDirtyLocked schedules d for a debounced bitmap flush; d.mu must
// already be held.
func (d *DLItem) markDirtyLocked() {
	if d.persist != nil {
		d.persist.Mark(d)
	}
}

// PersistSnapshot returns a copy of d's current block size, bitmap, and
// TTHL for the persistence layer to write out, or a nil bitmap if none has
// been established yet.
func (d *DLItem) PersistSnapshot() (blockSize int64, bitmap []bool, leaves []tth.Hash) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Bitmap == nil {
		return 0, nil, nil
	}
	return d.BlockSize, append([]bool(nil), d.Bitmap...), append([]tth.Hash(nil), d.TTHL...)
}

// RestoreBitmap re-establishes a previously persisted bitmap on process
// startup (spec.md:109's durability guarantee: a restart must not lose
// verified-block progress that survives on disk in the .incomplete file).
func (d *DLItem) RestoreBitmap(blockSize int64, bitmap []bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(bitmap) == 0 {
		return
	}
	d.BlockSize = blockSize
	d.Bitmap = append([]bool(nil), bitmap...)
	d.Have = 0
	for i, have := range d.Bitmap {
		if !have {
			continue
		}
		length := blockSize
		if remaining := int64(d.Size) - int64(i)*blockSize; remaining < length {
			length = remaining
		}
		d.Have += uint64(length)
	}
	if d.Have == d.Size {
		d.Complete = true
	}
}

// NextMissingBlock returns the lowest-index unverified block, or false if
// every block is already verified.
func (d *DLItem) NextMissingBlock() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, have := range d.Bitmap {
		if !have {
			return i, true
		}
	}
	return 0, false
}

// AllBusy reports whether every block is either verified or currently
// assigned to a downloader thread, per spec.md §4.3.
func (d *DLItem) AllBusy(assignedBlocks int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	unassigned := 0
	for _, v := range d.Bitmap {
		if !v {
			unassigned++
		}
	}
	return unassigned <= assignedBlocks
}

// DLSource pairs a DLItem with a candidate peer (uid), per spec.md §3.
type DLSource struct {
	UID      uint64
	Item     *DLItem
	SrcErr   dlerr.Code
	SrcMsg   string
	Active   bool // not set by the scheduler; DLUser.ActiveSrc names an ACT user's source
}

// Enabled reports whether this source is eligible for scheduling, per
// spec.md §4.2.
func (s *DLSource) Enabled() bool {
	return dlerr.Enabled(s.Item.Priority, s.Item.ItemErr, s.SrcErr, s.Item.Complete)
}

// DLUser is one remote client we may download from, identified by its
// uid (first 8 bytes of tiger(hub_id||CID) on ADC, tiger(hub_id||nick)
// on NMDC, per spec.md §4.1).
type DLUser struct {
	UID        uint64
	Nick       string
	HubID      string
	State      UserState
	ActiveSrc  *DLSource // set exactly when State == StateACT, per spec.md §4.2
	Queue      []*DLSource
	WaitUntil  time.Time
	lastChange time.Time

	// Conn is the established peer connection backing an IDL or ACT user;
	// it is set once a dial or an inbound $ConnectToMe handshake succeeds
	// and cleared on disconnect, per spec.md §4.2's "already-connected"
	// IDL state.
	Conn *netconn.Connection
}

// NewDLUser constructs a DLUser in the NCO state.
func NewDLUser(uid uint64, nick, hubID string) *DLUser {
	return &DLUser{UID: uid, Nick: nick, HubID: hubID, State: StateNCO, lastChange: time.Now()}
}

// TopEnabledSource returns the highest-priority enabled DLSource in the
// user's queue, already sorted by SortQueue.
func (u *DLUser) TopEnabledSource() *DLSource {
	for _, s := range u.Queue {
		if s.Enabled() {
			return s
		}
	}
	return nil
}

// transition moves the user to a new state, enforcing the invariants from
// spec.md §4.2: ActiveSrc is set exactly when State == ACT, and entering
// WAI clears any scheduled activity.
func (u *DLUser) transition(next UserState) {
	if u.State == StateACT && next != StateACT {
		u.ActiveSrc = nil
	}
	if next == StateWAI {
		u.ActiveSrc = nil
	}
	u.State = next
	u.lastChange = time.Now()
}
