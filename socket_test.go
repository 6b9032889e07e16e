//go:build linux
// +build linux

package genl

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/mdlayher/netlink/nlenc"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeRead struct {
	b   []byte
	err error
}

// fakeConn replays a script of reads. Once the script is exhausted every
// read times out.
type fakeConn struct {
	port      uint32
	script    []fakeRead
	reads     int
	sent      [][]byte
	peers     []uint32
	groups    map[uint32]bool
	rx, tx    int
	deadlines []time.Time
	closed    int

	sendErr error
	joinErr error
}

func (self *fakeConn) Send(b []byte, peer uint32) error {
	if self.sendErr != nil {
		return self.sendErr
	}
	self.sent = append(self.sent, append([]byte(nil), b...))
	self.peers = append(self.peers, peer)
	return nil
}

func (self *fakeConn) Receive() ([]byte, error) {
	self.reads++
	if len(self.script) == 0 {
		return nil, newError("recvfrom", ErrTimeout, unix.EAGAIN)
	}
	r := self.script[0]
	self.script = self.script[1:]
	return r.b, r.err
}

func (self *fakeConn) JoinGroup(group uint32) error {
	if self.joinErr != nil {
		return self.joinErr
	}
	self.groups[group] = true
	return nil
}

func (self *fakeConn) LeaveGroup(group uint32) error {
	delete(self.groups, group)
	return nil
}

func (self *fakeConn) SetBufferSize(rx, tx int) error {
	self.rx, self.tx = rx, tx
	return nil
}

func (self *fakeConn) SetReadDeadline(t time.Time) error {
	self.deadlines = append(self.deadlines, t)
	return nil
}

func (self *fakeConn) LocalPort() uint32 { return self.port }

func (self *fakeConn) Close() error {
	self.closed++
	return nil
}

func (self *fakeConn) lastSent(t *testing.T) unix.NlMsghdr {
	require.NotEmpty(t, self.sent)
	return getHeader(self.sent[len(self.sent)-1])
}

const fakeAutoPort = 4242

func newFakeConn(reads ...fakeRead) *fakeConn {
	return &fakeConn{
		script: reads,
		groups: make(map[uint32]bool),
	}
}

// fakeDial hands out conns in order, binding each to the requested port.
func fakeDial(conns ...*fakeConn) dialFunc {
	return func(protocol int, port uint32) (conn, error) {
		if len(conns) == 0 {
			return nil, os.NewSyscallError("socket", unix.EMFILE)
		}
		c := conns[0]
		conns = conns[1:]
		c.port = port
		if port == NL_AUTO_PORT {
			c.port = fakeAutoPort
		}
		return c, nil
	}
}

func openFake(t *testing.T, c *fakeConn) *Socket {
	sock, err := open(fakeDial(c), unix.NETLINK_GENERIC, NL_AUTO_PORT)
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })
	return sock
}

func frame(typ, flags uint16, seq uint32, payload []byte) []byte {
	b := make([]byte, NLMSG_HDRLEN, NLMSG_ALIGN(NLMSG_HDRLEN+len(payload)))
	b = append(b, payload...)
	putHeader(b, unix.NlMsghdr{
		Len:   uint32(len(b)),
		Type:  typ,
		Flags: flags,
		Seq:   seq,
	})
	return append(b, make([]byte, NLMSG_ALIGN(len(b))-len(b))...)
}

func genlFrame(typ uint16, cmd uint8, seq uint32, attrs []byte) []byte {
	return frame(typ, 0, seq, append([]byte{cmd, 1, 0, 0}, attrs...))
}

// errFrame carries code and a copy of an empty request header.
func errFrame(code int32, seq uint32) []byte {
	return frame(unix.NLMSG_ERROR, 0, seq, append(nlenc.Int32Bytes(code), make([]byte, NLMSG_HDRLEN)...))
}

func ackFrame(seq uint32) []byte {
	return errFrame(0, seq)
}

func doneFrame() []byte {
	return frame(unix.NLMSG_DONE, unix.NLM_F_MULTI, 0, nlenc.Int32Bytes(0))
}

func datagram(frames ...[]byte) fakeRead {
	var b []byte
	for _, f := range frames {
		b = append(b, f...)
	}
	return fakeRead{b: b}
}

func TestOpenDefaults(t *testing.T) {
	c := newFakeConn()
	sock := openFake(t, c)

	assert.Equal(t, uint32(fakeAutoPort), sock.LocalPort())
	assert.Equal(t, uint32(0), sock.PeerPort())
	assert.Equal(t, DefaultBufferSize, c.rx)
	assert.Equal(t, DefaultBufferSize, c.tx)
	assert.Equal(t, uint32(fakeAutoPort), sock.Log.Data["port"])

	st, err := handles.lookup(sock.handle)
	require.NoError(t, err)
	assert.Equal(t, RecvContinue, st.Status)
}

func TestOpenFailure(t *testing.T) {
	_, err := open(fakeDial(), unix.NETLINK_GENERIC, 0)
	require.Error(t, err)
	assert.Equal(t, ErrTransport, KindOf(err))
	assert.True(t, errors.Is(err, unix.EMFILE))
}

func newPing(t *testing.T, family uint16) *Message {
	msg := NewMessage()
	require.NoError(t, msg.PutHeader(0, family))
	require.NoError(t, msg.PutString(0, "ping"))
	return msg
}

func TestSendCompletesHeader(t *testing.T) {
	c := newFakeConn()
	sock := openFake(t, c)
	sock.SetPeerPort(888)

	require.NoError(t, sock.Send(newPing(t, 1024)))
	first := c.lastSent(t)
	assert.Equal(t, uint16(1024), first.Type)
	assert.Equal(t, uint32(fakeAutoPort), first.Pid)
	assert.NotZero(t, first.Seq)
	assert.Equal(t, uint16(unix.NLM_F_REQUEST|unix.NLM_F_ACK), first.Flags)
	assert.Equal(t, uint32(888), c.peers[0])

	sock.DisableAutoAck()
	require.NoError(t, sock.Send(newPing(t, 1024)))
	second := c.lastSent(t)
	assert.Equal(t, first.Seq+1, second.Seq)
	assert.Equal(t, uint16(unix.NLM_F_REQUEST), second.Flags)

	sock.EnableAutoAck()
	require.NoError(t, sock.Send(newPing(t, 1024)))
	assert.Equal(t, uint16(unix.NLM_F_REQUEST|unix.NLM_F_ACK), c.lastSent(t).Flags)
}

func TestSendPing(t *testing.T) {
	c := newFakeConn()
	sock := openFake(t, c)
	require.NoError(t, sock.Send(newPing(t, 1024)))

	b := c.sent[0]
	assert.Len(t, b, NLMSG_HDRLEN+GENL_HDRLEN+12)
	assert.Equal(t, uint32(len(b)), getHeader(b).Len)

	attrs, err := ParseAttrs(b[NLMSG_HDRLEN+GENL_HDRLEN:])
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, uint16(0), attrs[0].Type)
	assert.Equal(t, uint16(9), nlenc.Uint16(b[NLMSG_HDRLEN+GENL_HDRLEN:NLMSG_HDRLEN+GENL_HDRLEN+2]))
	assert.Equal(t, "ping", attrs[0].Str())
}

func TestSendConsumesMessage(t *testing.T) {
	c := newFakeConn()
	sock := openFake(t, c)

	msg := newPing(t, 1024)
	require.NoError(t, sock.Send(msg))
	_, err := msg.Bytes()
	assert.Equal(t, ErrInvalidState, KindOf(err))

	err = sock.Send(msg)
	assert.Equal(t, ErrInvalidState, KindOf(err))
	assert.Len(t, c.sent, 1)
}

func TestSendFailure(t *testing.T) {
	c := newFakeConn()
	c.sendErr = os.NewSyscallError("sendto", unix.ECONNREFUSED)
	sock := openFake(t, c)

	msg := newPing(t, 1024)
	err := sock.Send(msg)
	require.Error(t, err)
	assert.Equal(t, ErrSendFailed, KindOf(err))
	assert.True(t, errors.Is(err, unix.ECONNREFUSED))

	var nerr *Error
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, unix.ECONNREFUSED, nerr.Code)

	var serr *os.SyscallError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "sendto", serr.Syscall)

	_, err = msg.Bytes()
	assert.Equal(t, ErrInvalidState, KindOf(err), "message released on failure too")
}

func TestSendRejectsOpenNest(t *testing.T) {
	c := newFakeConn()
	sock := openFake(t, c)

	msg := NewMessage()
	require.NoError(t, msg.PutHeader(1, 1024))
	require.NoError(t, msg.StartNested(1))
	assert.Equal(t, ErrInvalidState, KindOf(sock.Send(msg)))
	assert.Empty(t, c.sent)
}

func TestGroups(t *testing.T) {
	c := newFakeConn()
	sock := openFake(t, c)

	require.NoError(t, sock.JoinGroup(5))
	assert.True(t, c.groups[5])
	require.NoError(t, sock.LeaveGroup(5))
	assert.False(t, c.groups[5])

	c.joinErr = os.NewSyscallError("setsockopt", unix.EINVAL)
	err := sock.JoinGroup(6)
	assert.Equal(t, ErrMembershipFailed, KindOf(err))
	assert.True(t, errors.Is(err, unix.EINVAL))
}

func TestSetLocalPort(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	sock, err := open(fakeDial(first, second), unix.NETLINK_GENERIC, NL_AUTO_PORT)
	require.NoError(t, err)
	defer sock.Close()

	require.NoError(t, sock.JoinGroup(3))
	require.NoError(t, sock.SetBufferSize(65536, 0))
	require.NoError(t, sock.SetLocalPort(888))

	assert.Equal(t, uint32(888), sock.LocalPort())
	assert.Equal(t, 1, first.closed)
	assert.True(t, second.groups[3])
	assert.Equal(t, 65536, second.rx)
	assert.Equal(t, DefaultBufferSize, second.tx)

	require.NoError(t, sock.Send(newPing(t, 1024)))
	assert.Empty(t, first.sent)
	assert.Equal(t, uint32(888), second.lastSent(t).Pid)
}

func TestSetLocalPortFailureKeepsConn(t *testing.T) {
	c := newFakeConn()
	sock := openFake(t, c)

	err := sock.SetLocalPort(888)
	assert.Equal(t, ErrTransport, KindOf(err))
	assert.Equal(t, uint32(fakeAutoPort), sock.LocalPort())
	assert.Zero(t, c.closed)
}

func TestCloseIdempotent(t *testing.T) {
	c := newFakeConn(datagram(ackFrame(0)))
	sock, err := open(fakeDial(c), unix.NETLINK_GENERIC, NL_AUTO_PORT)
	require.NoError(t, err)
	h := sock.handle

	require.NoError(t, sock.Close())
	require.NoError(t, sock.Close())
	assert.Equal(t, 1, c.closed)

	_, err = handles.lookup(h)
	assert.Equal(t, ErrInvalidArgument, KindOf(err))

	assert.Equal(t, ErrInvalidState, KindOf(sock.Send(newPing(t, 1024))))
	assert.Equal(t, ErrInvalidState, KindOf(sock.Recv(context.Background(), nil, nil)))
	assert.Equal(t, ErrInvalidState, KindOf(sock.JoinGroup(1)))
	assert.Zero(t, c.reads)
}
