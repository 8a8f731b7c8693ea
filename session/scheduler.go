package session

import (
	"sort"
	"time"
)

// debounceInterval is the scheduler scan coalescing window from spec.md
// §5 ("the scheduler's debounced scan guarantees that multiple rapid
// state changes collapse into at most one scheduling pass every 500 ms").
const debounceInterval = 500 * time.Millisecond

// reconnectWait is the default per-user WAI duration from spec.md §4.2.
const reconnectWait = 60 * time.Second

// expTimeout bounds how long a user may sit in StateEXP awaiting a peer's
// reverse-connect handshake before the scheduler gives up on it, a backstop
// for cases connectAndTransfer's own pendingDialUID correlation can't
// resolve (multiple concurrent EXP dials on one hub, or a CTM response that
// never arrives at all): without this, scan() never reconsiders a user
// stuck in EXP since it only scans StateNCO/StateIDL.
const expTimeout = peerDialTimeout + 10*time.Second

// scheduler implements C2: it decides, on a debounced timer, which users
// to dial and which queued DLSource to hand to an already-connected user.
// Grounded on the teacher's tickUnchoke/tickOptimisticUnchoke passes: a
// sort of candidates by a priority tuple followed by a fixed-budget
// assignment loop.
type scheduler struct {
	core *Core

	needsStart bool
	timer      *time.Timer
	timerC     <-chan time.Time

	dialFunc func(u *DLUser) // hands a NCO user off to the connection layer
	startFunc func(u *DLUser, s *DLSource) // hands an IDL user's top source to its connection
}

func newScheduler(core *Core, dial func(*DLUser), start func(*DLUser, *DLSource)) *scheduler {
	return &scheduler{core: core, dialFunc: dial, startFunc: start}
}

// RequestScan marks the scheduler dirty and arms the debounce timer if it
// isn't already running, per spec.md §4.2's "needs-start" coalescing.
func (s *scheduler) RequestScan() {
	s.needsStart = true
	if s.timer == nil {
		s.timer = time.NewTimer(debounceInterval)
		s.timerC = s.timer.C
	}
}

// Fire is called by the owning run loop when s.timerC ticks.
func (s *scheduler) Fire() {
	s.timer = nil
	s.timerC = nil
	if !s.needsStart {
		return
	}
	s.needsStart = false
	s.scan()
}

// loop drives the debounce timer on its own goroutine until closeC closes,
// since nothing else in Core selects on a bare time.Timer's channel; it
// mirrors the teacher's per-concern goroutine-plus-closeC pattern used
// throughout netconn.
func (s *scheduler) loop(closeC <-chan struct{}) {
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-closeC:
			return
		case <-poll.C:
			if s.timerC == nil {
				continue
			}
			select {
			case <-s.timerC:
				s.Fire()
			default:
			}
		}
	}
}

// sortSources orders a user's DLSources by spec.md §4.2's ordering tuple:
// (enabled, is-filelist, priority desc, destination path asc). Disabled
// entries sink to the end.
func sortSources(sources []*DLSource) {
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		ae, be := a.Enabled(), b.Enabled()
		if ae != be {
			return ae // enabled sorts first
		}
		if a.Item.IsList != b.Item.IsList {
			return a.Item.IsList // file lists outrank regular files
		}
		if a.Item.Priority != b.Item.Priority {
			return a.Item.Priority > b.Item.Priority // higher priority first
		}
		return a.Item.Dest < b.Item.Dest // alphabetical tiebreak
	})
}

// candidate pairs a user with its current top source for one scan pass.
type candidate struct {
	user *DLUser
	top  *DLSource
}

// scan implements spec.md §4.2's debounced scan algorithm.
func (s *scheduler) scan() {
	freeSlots := s.core.config.DownloadSlots - s.core.countActive()
	if freeSlots <= 0 {
		return
	}

	var candidates []candidate
	for _, u := range s.core.users {
		if u.State != StateNCO && u.State != StateIDL {
			continue
		}
		sortSources(u.Queue)
		top := u.TopEnabledSource()
		if top == nil {
			continue
		}
		candidates = append(candidates, candidate{user: u, top: top})
	}

	for freeSlots > 0 && len(candidates) > 0 {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidateLess(candidates[i], candidates[j])
		})
		pick := candidates[0]
		candidates = candidates[1:]

		switch pick.user.State {
		case StateNCO:
			pick.user.transition(StateEXP)
			s.dialFunc(pick.user)
		case StateIDL:
			pick.user.transition(StateACT)
			pick.user.ActiveSrc = pick.top
			s.startFunc(pick.user, pick.top)
			freeSlots--
		}
	}
}

// candidateLess implements "across users, the next candidate to act on is
// compared by (IDL preferred over NCO, then by the user's top enabled
// DLSource using the same tuple)", per spec.md §4.2.
func candidateLess(a, b candidate) bool {
	aIdl, bIdl := a.user.State == StateIDL, b.user.State == StateIDL
	if aIdl != bIdl {
		return aIdl
	}
	ai, bi := a.top.Item, b.top.Item
	if ai.IsList != bi.IsList {
		return ai.IsList
	}
	if ai.Priority != bi.Priority {
		return ai.Priority > bi.Priority
	}
	return ai.Dest < bi.Dest
}

// EnterWait transitions a user to WAI after a failure or connection loss,
// arming the reconnect timer, per spec.md §4.2.
func (s *scheduler) EnterWait(u *DLUser) {
	u.transition(StateWAI)
	u.WaitUntil = time.Now().Add(reconnectWait)
}

// TickWait moves any WAI user whose timer has expired back to NCO, and any
// EXP user stuck past expTimeout into WAI, then requests a scan, per
// spec.md §4.2 ("WAI → NCO on timer expiry").
func (s *scheduler) TickWait(now time.Time) {
	changed := false
	for _, u := range s.core.users {
		switch {
		case u.State == StateWAI && !now.Before(u.WaitUntil):
			u.transition(StateNCO)
			changed = true
		case u.State == StateEXP && now.Sub(u.lastChange) >= expTimeout:
			s.EnterWait(u)
			changed = true
		}
	}
	if changed {
		s.RequestScan()
	}
}
