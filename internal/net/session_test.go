package net

import (
	"net"
	"testing"
	"time"

	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/l1jgo/realm/internal/net/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func pipeSession(t *testing.T, id uint64, opts SessionOptions, faults *faultlog.Log) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	sess := NewSession(server, id, packet.DefaultCodec(), opts, faults, zap.NewNop())
	sess.Start()
	t.Cleanup(func() {
		client.Close()
		sess.Close()
	})
	return sess, client
}

func TestSessionPreservesArrivalOrder(t *testing.T) {
	sess, client := pipeSession(t, 1, SessionOptions{InQueueSize: 8, OutQueueSize: 8}, nil)
	codec := packet.DefaultCodec()

	go func() {
		for i := uint32(1); i <= 200; i++ {
			if err := WriteMessage(client, codec, &packet.Ping{Nonce: i}); err != nil {
				return
			}
		}
	}()

	for i := uint32(1); i <= 200; i++ {
		select {
		case in := <-sess.InQueue:
			require.True(t, sess.InOrder(in.Seq), "seq %d out of order", in.Seq)
			assert.Equal(t, i, in.Msg.(*packet.Ping).Nonce)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestSessionClosesOnFrameError(t *testing.T) {
	faults := faultlog.New(zap.NewNop(), 8)
	sess, client := pipeSession(t, 2, SessionOptions{InQueueSize: 8, OutQueueSize: 8}, faults)

	go client.Write([]byte{0, 0, 0, 2, 0x7E, 0x7E})

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not close on unknown frame type")
	}
	assert.Equal(t, packet.StateClosing, sess.State())
	require.Eventually(t, func() bool { return faults.Count(faultlog.KindFrame) == 1 }, time.Second, 10*time.Millisecond)
}

func TestSessionBackpressureDisconnects(t *testing.T) {
	// nobody reads the client side, so the writer stalls
	sess, _ := pipeSession(t, 3, SessionOptions{InQueueSize: 1, OutQueueSize: 1}, nil)

	for i := 0; i < 4; i++ {
		sess.Send(&packet.Pong{Nonce: uint32(i)})
	}
	sess.FlushOutput()

	assert.True(t, sess.IsClosed())
	assert.Equal(t, 0, sess.Buffered())
	sess.Send(&packet.Pong{})
	assert.Equal(t, 0, sess.Buffered(), "closed sessions drop sends")
}

func TestSessionStateOnlyMovesForward(t *testing.T) {
	sess, _ := pipeSession(t, 4, SessionOptions{InQueueSize: 1, OutQueueSize: 1}, nil)

	sess.SetState(packet.StateActive)
	sess.Close()
	sess.SetState(packet.StateActive)
	assert.Equal(t, packet.StateClosing, sess.State())

	sess.MarkClosed()
	assert.Equal(t, packet.StateClosed, sess.State())
}

func TestStoreByAccount(t *testing.T) {
	store := NewSessionStore()
	a, _ := pipeSession(t, 10, SessionOptions{InQueueSize: 1, OutQueueSize: 1}, nil)
	store.Add(a)
	store.BindAccount(a, "alice")

	assert.Same(t, a, store.ByAccount("alice"))
	a.Close()
	assert.Nil(t, store.ByAccount("alice"))

	store.Remove(a.ID)
	assert.Equal(t, 0, store.Len())
}

func TestStoreAddKeepsLiveAccountBinding(t *testing.T) {
	store := NewSessionStore()
	a, _ := pipeSession(t, 10, SessionOptions{InQueueSize: 1, OutQueueSize: 1}, nil)
	b, _ := pipeSession(t, 11, SessionOptions{InQueueSize: 1, OutQueueSize: 1}, nil)
	a.AccountName, b.AccountName = "alice", "alice"

	store.Add(a)
	store.Add(b)
	assert.Same(t, a, store.ByAccount("alice"))

	a.Close()
	store.Remove(a.ID)
	store.Add(b)
	assert.Same(t, b, store.ByAccount("alice"))
}
