//go:build linux
// +build linux

package genl

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Action is what a callback tells the receive loop to do with the rest of
// the datagram.
type Action int

const (
	NL_OK   Action = iota // proceed with the next frame
	NL_SKIP               // skip this frame
	NL_STOP               // stop and drop the rest of the datagram
)

func (self Action) String() string {
	switch self {
	case NL_OK:
		return "NL_OK"
	case NL_SKIP:
		return "NL_SKIP"
	case NL_STOP:
		return "NL_STOP"
	}
	return "Action(?)"
}

// Handler receives payload frames; arg is the value passed to Recv.
type Handler func(msg *Msg, arg interface{}) Action

type RecvStatus int

const (
	RecvContinue RecvStatus = iota
	RecvFinish
	RecvError
)

func (self RecvStatus) String() string {
	switch self {
	case RecvContinue:
		return "CONTINUE"
	case RecvFinish:
		return "FINISH"
	case RecvError:
		return "ERROR"
	}
	return "RecvStatus(?)"
}

// RecvState is the register the classification callbacks write while a
// receive loop runs.
type RecvState struct {
	Status        RecvStatus
	ExpectedAttrs int
	Code          unix.Errno // set when Status is RecvError
	SeqExpect     uint32

	handler Handler
	arg     interface{}
	log     *logrus.Entry
}

func (self *RecvState) reset(expected int, handler Handler, arg interface{}) {
	self.Status = RecvContinue
	self.ExpectedAttrs = expected
	self.Code = 0
	self.handler = handler
	self.arg = arg
}

// recvHandle names a RecvState in the handle table. Callbacks never see the
// Socket itself.
type recvHandle uint32

type handleTable struct {
	lock   sync.Mutex
	next   recvHandle
	states map[recvHandle]*RecvState
}

var handles = &handleTable{
	states: make(map[recvHandle]*RecvState),
}

func (self *handleTable) acquire(st *RecvState) recvHandle {
	self.lock.Lock()
	defer self.lock.Unlock()

	for {
		self.next++
		if _, used := self.states[self.next]; self.next != 0 && !used {
			break
		}
	}
	self.states[self.next] = st
	return self.next
}

func (self *handleTable) lookup(h recvHandle) (*RecvState, error) {
	self.lock.Lock()
	defer self.lock.Unlock()

	if st, ok := self.states[h]; ok {
		return st, nil
	}
	return nil, errors.Wrapf(ErrInvalidArgument, "unknown receive handle %d", h)
}

func (self *handleTable) release(h recvHandle) {
	self.lock.Lock()
	defer self.lock.Unlock()

	delete(self.states, h)
}

type callback func(h recvHandle, msg *Msg) (Action, error)

type callbackSet struct {
	seqCheck callback
	finish   callback
	ack      callback
	err      callback
	valid    callback
}

func defaultCallbacks() *callbackSet {
	return &callbackSet{
		seqCheck: acceptSeq,
		finish:   finishCallback,
		ack:      ackCallback,
		err:      errorCallback,
		valid:    validCallback,
	}
}

func acceptSeq(h recvHandle, msg *Msg) (Action, error) {
	return NL_OK, nil
}

func checkSeq(h recvHandle, msg *Msg) (Action, error) {
	st, err := handles.lookup(h)
	if err != nil {
		return NL_STOP, err
	}
	if msg.Header.Seq != st.SeqExpect {
		st.log.WithFields(logrus.Fields{
			"seq":    msg.Header.Seq,
			"expect": st.SeqExpect,
		}).Debug("sequence mismatch, frame skipped")
		return NL_SKIP, nil
	}
	return NL_OK, nil
}

func finishCallback(h recvHandle, msg *Msg) (Action, error) {
	st, err := handles.lookup(h)
	if err != nil {
		return NL_STOP, err
	}
	st.log.Debug("finish callback triggered")
	st.Status = RecvFinish
	return NL_SKIP, nil
}

func ackCallback(h recvHandle, msg *Msg) (Action, error) {
	st, err := handles.lookup(h)
	if err != nil {
		return NL_STOP, err
	}
	st.log.Debug("ack callback triggered")
	st.Status = RecvFinish
	return NL_STOP, nil
}

func errorCallback(h recvHandle, msg *Msg) (Action, error) {
	st, err := handles.lookup(h)
	if err != nil {
		return NL_STOP, err
	}
	code, err := msg.ErrorCode()
	if err != nil {
		return NL_STOP, err
	}
	if code < 0 {
		code = -code
	}
	st.Code = unix.Errno(code)
	st.Status = RecvError
	st.log.WithField("code", -code).Errorf("peer reported error: %v", st.Code)
	return NL_SKIP, nil
}

func validCallback(h recvHandle, msg *Msg) (Action, error) {
	st, err := handles.lookup(h)
	if err != nil {
		return NL_STOP, err
	}
	if st.handler == nil {
		return NL_SKIP, nil
	}
	act := st.handler(msg, st.arg)
	if act == NL_STOP {
		st.Status = RecvFinish
	} else {
		st.Status = RecvContinue
	}
	return act, nil
}
