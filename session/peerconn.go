package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kprimus/dcshare/internal/chunkdownloader"
	"github.com/kprimus/dcshare/internal/dlerr"
	"github.com/kprimus/dcshare/internal/hubproto"
	"github.com/kprimus/dcshare/internal/metrics"
	"github.com/kprimus/dcshare/internal/netconn"
	"github.com/kprimus/dcshare/internal/nmdc"
	"github.com/kprimus/dcshare/internal/tth"
)

// peerDialTimeout bounds the TCP connect plus handshake, per spec.md
// §4.4's 30s fatal-timeout budget applied to the initial exchange.
const peerDialTimeout = 30 * time.Second

// handleConnectRequest answers a hub-routed $ConnectToMe/CTM by dialing
// the address the sender supplied, per spec.md §4.1: the command carries
// the address the *recipient* should connect to, not the sender's.
func (c *Core) handleConnectRequest(h *Hub, addr string) {
	go c.connectAndTransfer(h, addr)
}

func (c *Core) connectAndTransfer(h *Hub, addr string) {
	conn := netconn.New(c.log, c.rates)
	conn.SetTerminator('|')
	ctx, cancel := context.WithTimeout(context.Background(), peerDialTimeout)
	defer cancel()
	if err := conn.Dial(ctx, "tcp", addr, ""); err != nil {
		c.log.Debugf("peer dial %s failed: %v", addr, err)
		// spec.md:200: "CONN on a peer puts the DLUser into WAI for
		// 60s". We only learn which DLUser this dial answers for once the
		// NMDC handshake names the peer, so demote the pending EXP user
		// dialPeer most recently asked to reverse-connect (best effort;
		// the EXP-timeout sweep in scheduler.TickWait is the backstop
		// when no pending uid is recorded or it no longer matches).
		if pu, ok := c.users[h.pendingDialUID]; ok && pu.State == StateEXP {
			c.scheduler.EnterWait(pu)
		}
		return
	}

	nick, err := peerHandshake(conn, h.nick)
	if err != nil {
		conn.Close()
		c.log.Debugf("peer handshake with %s failed: %v", addr, err)
		if pu, ok := c.users[h.pendingDialUID]; ok && pu.State == StateEXP {
			c.scheduler.EnterWait(pu)
		}
		return
	}

	id := uid(h.ID, &hubproto.UserInfo{Nick: nick})
	u, ok := c.users[id]
	if !ok {
		conn.Close()
		c.log.Debugf("connected peer %s (%s) is not a queued source", nick, addr)
		return
	}
	h.pendingDialUID = 0
	u.Conn = conn
	u.transition(StateIDL)
	c.scheduler.RequestScan()
}

// dialPeer is the scheduler's EXP-state callback (spec.md §4.2): it asks
// the hub to route a reverse-connect request to the peer, which answers
// with its own $ConnectToMe/CTM for us to dial in connectAndTransfer.
func (c *Core) dialPeer(u *DLUser) {
	h, ok := c.hubs[u.HubID]
	if !ok {
		c.scheduler.EnterWait(u)
		return
	}
	h.pendingDialUID = u.UID
	_ = h.Send(hubproto.HubCommand{Kind: hubproto.CommandRevConnectToMe, Recipient: u.Nick})
}

// peerHandshake performs the NMDC client-to-client greeting: $MyNick /
// $Lock exchange followed by the peer's own $MyNick, returning its nick.
// ADC peer connections (CSUP/CINF) are left to a later iteration; every
// queued source so far in this module is reached over an NMDC hub.
func peerHandshake(conn *netconn.Connection, myNick string) (string, error) {
	lock := []byte("EXTENDEDPROTOCOLABCABCABCABCABCABC")
	greeting := nmdc.CmdMyNick + " " + myNick + string(nmdc.Terminator) +
		nmdc.CmdLock + " " + string(lock) + " Pk=dcshare" + string(nmdc.Terminator)
	if err := conn.Write([]byte(greeting)); err != nil {
		return "", err
	}

	var peerNick string
	var peerLock []byte
	for peerNick == "" || peerLock == nil {
		ev, ok := <-conn.Events()
		if !ok {
			return "", io.ErrClosedPipe
		}
		switch ev.Kind {
		case netconn.EventMessage:
			s := strings.TrimSuffix(string(ev.Data), string(nmdc.Terminator))
			switch {
			case strings.HasPrefix(s, nmdc.CmdMyNick+" "):
				peerNick = strings.TrimPrefix(s, nmdc.CmdMyNick+" ")
			case strings.HasPrefix(s, nmdc.CmdLock+" "):
				fields := strings.Fields(strings.TrimPrefix(s, nmdc.CmdLock+" "))
				if len(fields) > 0 {
					peerLock = []byte(fields[0])
				}
			}
		case netconn.EventDisconnected, netconn.EventError:
			return "", io.ErrUnexpectedEOF
		}
	}

	key, err := nmdc.Key(peerLock)
	if err != nil {
		return "", err
	}
	if err := conn.Write([]byte(nmdc.CmdKey + " " + string(key) + string(nmdc.Terminator))); err != nil {
		return "", err
	}
	return peerNick, nil
}

// runTransfer drives one source's segmented download over an established
// peer connection, per spec.md §4.3 (C3): it acquires the TTHL if not
// already known, requests the file's unfinished byte range, verifies each
// block against the tree, and on completion fsyncs and renames the
// incomplete file to its destination.
func (c *Core) runTransfer(u *DLUser, s *DLSource, conn *netconn.Connection) {
	item := s.Item

	if item.TTHL == nil {
		if err := acquireTTHL(conn, item); err != nil {
			if isConnError(err) {
				c.failConnection(u, conn, err)
			} else {
				c.failSource(u, s, dlerr.INVTTHL, err)
			}
			return
		}
	}

	blockIdx, ok := item.NextMissingBlock()
	if !ok {
		u.transition(StateIDL)
		c.scheduler.RequestScan()
		return
	}
	startByte := int64(blockIdx) * item.BlockSize
	length := item.BlockSize
	if remaining := int64(item.Size) - startByte; remaining < length {
		length = remaining
	}

	req := fmt.Sprintf("$Get %s$%d%s", item.TTH.String(), startByte+1, string(nmdc.Terminator))
	if err := conn.Write([]byte(req)); err != nil {
		c.failConnection(u, conn, err)
		return
	}

	fileLen, err := readFileLength(conn)
	if err != nil {
		if isConnError(err) {
			c.failConnection(u, conn, err)
		} else {
			c.failSource(u, s, dlerr.NOFILE, err)
		}
		return
	}
	if fileLen != length {
		length = fileLen
	}
	if err := conn.Write([]byte("$Send" + string(nmdc.Terminator))); err != nil {
		c.failConnection(u, conn, err)
		return
	}

	incomplete := item.Dest + ".incomplete"
	f, err := os.OpenFile(incomplete, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		// Local disk error: the peer and connection are fine, only this
		// item is stuck, so only the source is demoted.
		c.failSource(u, s, dlerr.IOInc, err)
		return
	}
	defer f.Close()

	dl := chunkdownloader.New(item.TTHL, item.BlockSize, connReader{conn})
	writeErr := dl.Run(startByte, length, func(r chunkdownloader.Result) error {
		if _, err := f.WriteAt(r.Data, r.Offset); err != nil {
			return err
		}
		item.MarkBlockVerified(r.BlockIndex, int64(len(r.Data)))
		return nil
	})
	if writeErr != nil {
		switch {
		case isHashMismatch(writeErr):
			item.ClearBlocksOnMismatch(blockIdx, blockIdx)
			c.failSource(u, s, dlerr.HASH, writeErr)
		case isConnError(writeErr):
			c.failConnection(u, conn, writeErr)
		default:
			c.failSource(u, s, dlerr.IOInc, writeErr)
		}
		return
	}

	if item.Complete {
		c.finishItem(item)
		conn.Close()
		u.Conn = nil
		u.transition(StateNCO)
		c.scheduler.RequestScan()
		return
	}
	u.transition(StateIDL)
	c.scheduler.RequestScan()
}

func isHashMismatch(err error) bool {
	_, ok := err.(*chunkdownloader.HashMismatchError)
	return ok
}

// isConnError reports whether err came from the transport itself (a
// broken socket) rather than from peer/content-level protocol state, by
// checking for netconn's own error taxonomy.
func isConnError(err error) bool {
	var ne *netconn.Error
	return errors.As(err, &ne)
}

// connReader adapts netconn's byte-counted consume mode to io.Reader for
// chunkdownloader, which only needs sequential reads.
type connReader struct{ conn *netconn.Connection }

func (r connReader) Read(p []byte) (int, error) {
	data, err := r.conn.ReadN(len(p), netconn.ModeByteCountConsume)
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

// acquireTTHL fetches the peer's TTHL leaf array for item's TTH, falling
// back to a single synthetic leaf for files below tth.MinTTHLSize, per
// spec.md §4.3.
func acquireTTHL(conn *netconn.Connection, item *DLItem) error {
	if item.Size < tth.MinTTHLSize {
		item.EnsureBitmap(int64(item.Size), []tth.Hash{item.TTH})
		return nil
	}
	req := "$UGetTTHL " + item.TTH.String() + string(nmdc.Terminator)
	if err := conn.Write([]byte(req)); err != nil {
		return err
	}
	fileLen, err := readFileLength(conn)
	if err != nil {
		return err
	}
	raw, err := conn.ReadN(int(fileLen), netconn.ModeByteCountConsume)
	if err != nil {
		return err
	}
	leaves := make([]tth.Hash, 0, len(raw)/tth.Size)
	for i := 0; i+tth.Size <= len(raw); i += tth.Size {
		var h tth.Hash
		copy(h[:], raw[i:i+tth.Size])
		leaves = append(leaves, h)
	}
	if !tth.Verify(leaves, item.TTH) {
		return fmt.Errorf("session: TTHL for %s does not roll up to its root", item.TTH)
	}
	compacted, blockSize := tth.Compact(leaves, tth.LeafSize)
	item.EnsureBitmap(blockSize, compacted)
	return nil
}

// readFileLength reads a "$FileLength <n>|" response.
func readFileLength(conn *netconn.Connection) (int64, error) {
	for {
		ev, ok := <-conn.Events()
		if !ok {
			return 0, &netconn.Error{Kind: netconn.ErrConn, Err: io.ErrClosedPipe}
		}
		switch ev.Kind {
		case netconn.EventMessage:
			s := strings.TrimSuffix(string(ev.Data), string(nmdc.Terminator))
			if strings.HasPrefix(s, "$FileLength ") {
				n, err := strconv.ParseInt(strings.TrimPrefix(s, "$FileLength "), 10, 64)
				return n, err
			}
		case netconn.EventDisconnected, netconn.EventError:
			return 0, &netconn.Error{Kind: netconn.ErrConn, Err: io.ErrUnexpectedEOF}
		}
	}
}

// failSource records a source-level error and lets the scheduler move on
// to the next candidate, per spec.md §4.2's error taxonomy: "Per-source
// errors ... demote that pairing but leave others intact". The connection
// itself is untouched and u goes back to StateIDL so the scheduler can pick
// its next enabled DLSource on the same peer rather than waiting out WAI.
func (c *Core) failSource(u *DLUser, s *DLSource, code dlerr.Code, err error) {
	metrics.TransfersFailed.Inc(1)
	s.SrcErr = code
	s.SrcMsg = err.Error()
	_ = c.resumer.SetUErr(u.UID, s.Item.TTH, code, err.Error())
	u.transition(StateIDL)
	c.scheduler.RequestScan()
}

// failConnection handles a genuine transport-level failure (spec.md:200:
// "CONN on a peer puts the DLUser into WAI for 60s"): the socket itself is
// bad, so every source queued to u is left alone and only the connection is
// torn down and the user demoted to WAI.
func (c *Core) failConnection(u *DLUser, conn *netconn.Connection, err error) {
	c.log.Debugf("peer connection to %s failed: %v", u.Nick, err)
	conn.Close()
	u.Conn = nil
	c.scheduler.EnterWait(u)
}

// finishItem performs the completion step from spec.md §4.3: it fsyncs
// the incomplete file, renames it to the destination, and removes the
// DLItem. runTransfer then closes the connection, returns the user to
// StateNCO and requests a scheduler scan.
func (c *Core) finishItem(item *DLItem) {
	metrics.TransfersDone.Inc(1)
	incomplete := item.Dest + ".incomplete"
	f, err := os.OpenFile(incomplete, os.O_WRONLY, 0644)
	if err == nil {
		f.Sync()
		f.Close()
	}
	if err := os.Rename(incomplete, item.Dest); err != nil {
		item.ItemErr = dlerr.IODest
		item.ItemMsg = err.Error()
		return
	}
	_ = c.resumer.SetStatus(item.TTH, int(item.Priority), dlerr.NONE, "")
	_ = c.resumer.RemoveDL(item.TTH)
	delete(c.dlitems, item.TTH.String())
}
