//go:build linux
// +build linux

package genl

import (
	"context"
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Recv is RecvAttrs with no expected attribute count.
func (self *Socket) Recv(ctx context.Context, handler Handler, arg interface{}) error {
	return self.RecvAttrs(ctx, 0, handler, arg)
}

// RecvAttrs reads datagrams until an ACK, NLMSG_DONE, an error frame, or a
// handler returning NL_STOP ends the exchange. Read failures that do not end
// it are logged and the read is retried. The deadline of ctx bounds the
// whole loop; it is applied again before every read. Cancellation of ctx is
// only noticed between reads, so a context without a deadline does not
// interrupt a read already blocked in the kernel.
//
// A nil handler skips payload frames, which waits for the ACK alone.
func (self *Socket) RecvAttrs(ctx context.Context, expectedAttrs int, handler Handler, arg interface{}) error {
	if err := self.usable("recv"); err != nil {
		return err
	}
	st, err := handles.lookup(self.handle)
	if err != nil {
		return err
	}
	st.reset(expectedAttrs, handler, arg)

	deadline, _ := ctx.Deadline()
	for st.Status == RecvContinue {
		if err := ctx.Err(); err != nil {
			return newError("recv", ErrTimeout, err)
		}
		if err := self.conn.SetReadDeadline(deadline); err != nil {
			return newError("recv", ErrTransport, err)
		}
		if err := self.recvmsgs(st); err != nil {
			switch KindOf(err) {
			case ErrTimeout:
				return newError("recv", ErrTimeout, err)
			case ErrInvalidArgument:
				return err
			}
			if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOTSOCK) {
				return newError("recv", ErrTransport, err)
			}
			if st.Status == RecvContinue {
				self.Log.WithError(err).Error("receive failed, retrying")
			}
		}
	}

	if st.Status == RecvError {
		return &Error{
			Op:   "recv",
			Kind: ErrRemote,
			Code: st.Code,
		}
	}
	return nil
}

// recvmsgs reads one datagram and dispatches its frames.
func (self *Socket) recvmsgs(st *RecvState) error {
	b, err := self.conn.Receive()
	if err != nil {
		return err
	}
	if self.Log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		self.Log.Trace("\n" + hex.Dump(b))
	}
	msgs, err := parseMessages(b)
	if err != nil {
		return err
	}
	for i := range msgs {
		msg := &msgs[i]
		msg.ExpectedAttrs = st.ExpectedAttrs
		act, err := self.dispatch(msg)
		if err != nil {
			return err
		}
		if act == NL_STOP || st.Status != RecvContinue {
			break
		}
	}
	return nil
}

func (self *Socket) dispatch(msg *Msg) (Action, error) {
	cb := self.cb
	if act, err := cb.seqCheck(self.handle, msg); err != nil || act != NL_OK {
		return act, err
	}
	switch msg.Header.Type {
	case unix.NLMSG_DONE:
		return cb.finish(self.handle, msg)
	case unix.NLMSG_ERROR:
		if code, err := msg.ErrorCode(); err != nil {
			return NL_STOP, err
		} else if code == 0 {
			return cb.ack(self.handle, msg)
		} else {
			return cb.err(self.handle, msg)
		}
	case unix.NLMSG_NOOP:
		return NL_SKIP, nil
	case unix.NLMSG_OVERRUN:
		return NL_STOP, errors.Wrap(ErrTransport, "netlink overrun")
	}
	return cb.valid(self.handle, msg)
}
