package zkteco

import (
	"errors"
	"sync"
)

// ErrBulkInProgress means a second bulk transfer was started while one was
// still draining. Only one may be in flight per session.
var ErrBulkInProgress = errors.New("zkteco: bulk transfer already in progress")

type waiter chan *Response

// replyRouter matches inbound packets to waiting callers.
//
// This is deliberately a best-effort single-slot correlation policy, not a
// multiplexer. Field devices drift their echoed reply ids, so an unmatched
// reply resolves the oldest registered waiter instead of being dropped. That
// fallback can misattribute replies under concurrent load, which is why the
// session serializes commands. Do not extend this into a pipelined design;
// real hardware depends on the lenient behavior.
type replyRouter struct {
	mu      sync.Mutex
	waiters map[int]waiter
	order   []int // registration order, oldest first
	bulk    waiter
	log     logger
}

func newReplyRouter(log logger) *replyRouter {
	return &replyRouter{
		waiters: make(map[int]waiter),
		log:     log,
	}
}

// register adds a waiter under replyID. The channel holds one response so
// dispatch never blocks.
func (r *replyRouter) register(replyID int) waiter {
	w := make(waiter, 1)
	r.mu.Lock()
	r.waiters[replyID] = w
	r.order = append(r.order, replyID)
	r.mu.Unlock()
	return w
}

// remove drops a registration, typically after its caller timed out.
func (r *replyRouter) remove(replyID int) {
	r.mu.Lock()
	r.removeLocked(replyID)
	r.mu.Unlock()
}

func (r *replyRouter) removeLocked(replyID int) {
	delete(r.waiters, replyID)
	for i, id := range r.order {
		if id == replyID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// armBulk opens the out-of-band channel for raw data packets.
func (r *replyRouter) armBulk() (waiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bulk != nil {
		return nil, ErrBulkInProgress
	}
	// Buffered by one so a data packet arriving between the chunk request
	// and the receive is never lost.
	r.bulk = make(waiter, 1)
	return r.bulk, nil
}

func (r *replyRouter) disarmBulk() {
	r.mu.Lock()
	r.bulk = nil
	r.mu.Unlock()
}

// dispatch routes one inbound packet. Policy, in order: the armed bulk
// waiter takes any raw data packet; an exact reply-id match resolves its
// waiter; otherwise the oldest waiter is resolved as a best-effort fallback;
// with no waiters at all the packet is dropped.
func (r *replyRouter) dispatch(h *packetHeader, body []byte) {
	res := &Response{
		Code:      h.Command,
		SessionID: h.SessionID,
		ReplyID:   h.ReplyID,
		Data:      body,
	}
	switch h.Command {
	case CMD_ACK_OK, CMD_PREPARE_DATA, CMD_DATA:
		res.Status = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bulk != nil && h.Command == CMD_DATA {
		select {
		case r.bulk <- res:
		default:
			r.log.Errorf("bulk data packet arrived with the slot full, dropping %d bytes", len(body))
		}
		return
	}

	if w, ok := r.waiters[h.ReplyID]; ok {
		r.removeLocked(h.ReplyID)
		w <- res
		return
	}

	if len(r.order) > 0 {
		oldest := r.order[0]
		r.log.Debugf("reply id %d matched no waiter, resolving oldest (%d)", h.ReplyID, oldest)
		w := r.waiters[oldest]
		r.removeLocked(oldest)
		w <- res
		return
	}

	r.log.Debugf("dropping unmatched packet code=%d reply=%d", h.Command, h.ReplyID)
}

// clear fails every pending waiter, including an armed bulk slot. Called on
// teardown; blocked callers observe a closed channel.
func (r *replyRouter) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, w := range r.waiters {
		close(w)
		delete(r.waiters, id)
	}
	r.order = nil
	if r.bulk != nil {
		close(r.bulk)
		r.bulk = nil
	}
}
