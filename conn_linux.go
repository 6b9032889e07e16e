//go:build linux
// +build linux

package genl

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// sysConn is a conn on a raw AF_NETLINK file descriptor.
type sysConn struct {
	fd   int
	port uint32
	buf  []byte
}

func dialSys(protocol int, port uint32) (conn, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, protocol)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Pid:    port,
	}); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("getsockname", err)
	}
	self := &sysConn{
		fd:  fd,
		buf: make([]byte, unix.Getpagesize()),
	}
	if nsa, ok := sa.(*unix.SockaddrNetlink); ok {
		self.port = nsa.Pid
	}
	return self, nil
}

func (self *sysConn) Send(b []byte, peer uint32) error {
	return os.NewSyscallError("sendto", unix.Sendto(self.fd, b, 0, &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Pid:    peer,
	}))
}

// Receive reads one datagram, growing the buffer when the kernel reports a
// truncated read.
func (self *sysConn) Receive() ([]byte, error) {
	for {
		n, _, err := unix.Recvfrom(self.fd, self.buf, unix.MSG_PEEK|unix.MSG_TRUNC)
		if err == unix.EINTR {
			continue
		} else if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, newError("recvfrom", ErrTimeout, err)
		} else if err != nil {
			return nil, os.NewSyscallError("recvfrom", err)
		}
		if n > len(self.buf) {
			self.buf = make([]byte, NLMSG_ALIGN(n))
			continue
		}
		break
	}
	for {
		n, _, err := unix.Recvfrom(self.fd, self.buf, 0)
		if err == unix.EINTR {
			continue
		} else if err != nil {
			return nil, os.NewSyscallError("recvfrom", err)
		}
		ret := make([]byte, n)
		copy(ret, self.buf[:n])
		return ret, nil
	}
}

func (self *sysConn) JoinGroup(group uint32) error {
	return os.NewSyscallError("setsockopt NETLINK_ADD_MEMBERSHIP",
		unix.SetsockoptInt(self.fd, unix.SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, int(group)))
}

func (self *sysConn) LeaveGroup(group uint32) error {
	return os.NewSyscallError("setsockopt NETLINK_DROP_MEMBERSHIP",
		unix.SetsockoptInt(self.fd, unix.SOL_NETLINK, unix.NETLINK_DROP_MEMBERSHIP, int(group)))
}

func (self *sysConn) SetBufferSize(rx, tx int) error {
	if err := unix.SetsockoptInt(self.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, rx); err != nil {
		return os.NewSyscallError("setsockopt SO_RCVBUF", err)
	}
	return os.NewSyscallError("setsockopt SO_SNDBUF",
		unix.SetsockoptInt(self.fd, unix.SOL_SOCKET, unix.SO_SNDBUF, tx))
}

// SetReadDeadline bounds the next reads with SO_RCVTIMEO. The zero time
// blocks forever.
func (self *sysConn) SetReadDeadline(t time.Time) error {
	var tv unix.Timeval
	if !t.IsZero() {
		d := time.Until(t)
		if d <= 0 {
			d = time.Microsecond
		}
		tv = unix.NsecToTimeval(d.Nanoseconds())
	}
	return os.NewSyscallError("setsockopt SO_RCVTIMEO",
		unix.SetsockoptTimeval(self.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv))
}

func (self *sysConn) LocalPort() uint32 {
	return self.port
}

func (self *sysConn) Close() error {
	return os.NewSyscallError("close", unix.Close(self.fd))
}
