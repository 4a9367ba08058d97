package zkteco

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader(code, replyID int) *packetHeader {
	return &packetHeader{Command: code, SessionID: 1, ReplyID: replyID}
}

func TestRouterExactMatchOutOfOrder(t *testing.T) {
	r := newReplyRouter(pkgLog())
	wA := r.register(10)
	wB := r.register(11)

	// Replies arrive in reverse order; exact ids still reach their callers.
	r.dispatch(testHeader(CMD_ACK_OK, 11), []byte("for B"))
	r.dispatch(testHeader(CMD_ACK_OK, 10), []byte("for A"))

	resA := <-wA
	resB := <-wB
	assert.Equal(t, []byte("for A"), resA.Data)
	assert.Equal(t, []byte("for B"), resB.Data)
}

func TestRouterFallbackResolvesOldestWaiter(t *testing.T) {
	r := newReplyRouter(pkgLog())
	oldest := r.register(20)
	newer := r.register(21)

	// Device reply id drifted; the oldest registration wins.
	r.dispatch(testHeader(CMD_ACK_OK, 999), []byte("drifted"))

	res := <-oldest
	assert.Equal(t, []byte("drifted"), res.Data)
	select {
	case <-newer:
		t.Fatal("newer waiter must stay registered")
	default:
	}
}

func TestRouterDropsWithNoWaiters(t *testing.T) {
	r := newReplyRouter(pkgLog())
	// Must not panic or block.
	r.dispatch(testHeader(CMD_ACK_OK, 5), nil)
}

func TestRouterBulkTakesDataPackets(t *testing.T) {
	r := newReplyRouter(pkgLog())
	bulk, err := r.armBulk()
	require.NoError(t, err)
	w := r.register(7)

	// A raw data packet goes out-of-band even when its reply id matches.
	r.dispatch(testHeader(CMD_DATA, 7), []byte("chunk"))
	res := <-bulk
	assert.Equal(t, []byte("chunk"), res.Data)

	// The ordinary reply still reaches the command waiter afterwards.
	r.dispatch(testHeader(CMD_ACK_OK, 7), nil)
	res = <-w
	assert.Equal(t, CMD_ACK_OK, res.Code)
	assert.True(t, res.Status)
}

func TestRouterSingleBulkSlot(t *testing.T) {
	r := newReplyRouter(pkgLog())
	_, err := r.armBulk()
	require.NoError(t, err)
	_, err = r.armBulk()
	assert.ErrorIs(t, err, ErrBulkInProgress)

	r.disarmBulk()
	_, err = r.armBulk()
	assert.NoError(t, err)
}

func TestRouterClearFailsPendingWaiters(t *testing.T) {
	r := newReplyRouter(pkgLog())
	w := r.register(3)
	r.clear()

	_, ok := <-w
	assert.False(t, ok)
}

func TestRouterRemoveStopsDelivery(t *testing.T) {
	r := newReplyRouter(pkgLog())
	w := r.register(4)
	r.remove(4)

	r.dispatch(testHeader(CMD_ACK_OK, 4), nil)
	select {
	case <-w:
		t.Fatal("removed waiter must not resolve")
	default:
	}
}
