//go:build linux
// +build linux

package genl

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Family is a generic netlink family as the controller describes it.
// Families registered locally carry only Name and ID.
type Family struct {
	ID      uint16
	Name    string
	Version uint32
	HdrSize uint32
	Groups  map[string]uint32
}

func (self *Family) FromAttrs(attrs AttrIndex) error {
	if t, ok := attrs.Get(CTRL_ATTR_FAMILY_ID); ok {
		if v, err := t.Uint16(); err != nil {
			return err
		} else {
			self.ID = v
		}
	}
	if t, ok := attrs.Get(CTRL_ATTR_FAMILY_NAME); ok {
		self.Name = t.Str()
	}
	if t, ok := attrs.Get(CTRL_ATTR_VERSION); ok {
		if v, err := t.Uint32(); err != nil {
			return err
		} else {
			self.Version = v
		}
	}
	if t, ok := attrs.Get(CTRL_ATTR_HDRSIZE); ok {
		if v, err := t.Uint32(); err != nil {
			return err
		} else {
			self.HdrSize = v
		}
	}
	if t, ok := attrs.Get(CTRL_ATTR_MCAST_GROUPS); ok {
		grps, err := t.List()
		if err != nil {
			return err
		}
		self.Groups = make(map[string]uint32)
		for _, grp := range grps {
			gattrs, err := CtrlGroupPolicy.Parse(grp.Payload)
			if err != nil {
				return err
			}
			name, ok1 := gattrs.Get(CTRL_ATTR_MCAST_GRP_NAME)
			id, ok2 := gattrs.Get(CTRL_ATTR_MCAST_GRP_ID)
			if ok1 && ok2 {
				if v, err := id.Uint32(); err != nil {
					return err
				} else {
					self.Groups[name.Str()] = v
				}
			}
		}
	}
	return nil
}

// ResolveFamily returns the numeric id of the named family.
func (self *Socket) ResolveFamily(name string) (uint16, error) {
	if f, err := self.Family(name); err != nil {
		return 0, err
	} else {
		return f.ID, nil
	}
}

func (self *Socket) Family(name string) (Family, error) {
	return self.FamilyContext(context.Background(), name)
}

// the controller's id is fixed by the kernel ABI
var ctrlFamily = Family{
	ID:      GENL_ID_CTRL,
	Name:    "nlctrl",
	Version: 2,
	Groups:  map[string]uint32{"notify": GENL_ID_CTRL},
}

// FamilyContext returns a family this socket already resolved, or asks the
// kernel controller. Only when the kernel does not know the name is the
// process registry consulted, for families served by user space peers.
func (self *Socket) FamilyContext(ctx context.Context, name string) (Family, error) {
	if name == ctrlFamily.Name {
		return ctrlFamily, nil
	}
	if f, ok := self.families[name]; ok {
		return f, nil
	}
	f, err := self.probeFamily(ctx, name)
	if KindOf(err) == ErrFamilyNotFound {
		if rf, ok := lookupFamily(name); ok {
			self.Log.WithField("family", name).Debugf("unknown to the kernel, using registered id %d", rf.ID)
			return rf, nil
		}
	}
	return f, err
}

// WaitFamily retries FamilyContext while the family is unknown, for
// families whose kernel module may still be loading. A nil b waits 100ms
// doubling up to 5s. It gives up with the last error when ctx ends.
func (self *Socket) WaitFamily(ctx context.Context, name string, b *backoff.Backoff) (Family, error) {
	if b == nil {
		b = &backoff.Backoff{
			Min:    100 * time.Millisecond,
			Max:    5 * time.Second,
			Factor: 2,
		}
	}
	for {
		f, err := self.FamilyContext(ctx, name)
		if err == nil || KindOf(err) != ErrFamilyNotFound {
			return f, err
		}
		d := b.Duration()
		self.Log.WithError(err).Debugf("family %s not found, retry in %s", name, d)
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return f, err
		case <-t.C:
		}
	}
}

type familyProbe struct {
	name   string
	stop   bool
	found  bool
	family Family
	err    error
}

func probeFamilyHandler(msg *Msg, arg interface{}) Action {
	probe := arg.(*familyProbe)
	if msg.Header.Type != GENL_ID_CTRL {
		return NL_SKIP
	}
	if hdr, err := msg.Genl(); err != nil {
		probe.err = err
		return NL_SKIP
	} else if hdr.Cmd != CTRL_CMD_NEWFAMILY {
		return NL_SKIP
	}
	data, err := msg.AttrData()
	if err != nil {
		probe.err = err
		return NL_SKIP
	}
	attrs, err := CtrlPolicy.Parse(data)
	if err != nil {
		probe.err = err
		return NL_SKIP
	}
	var family Family
	if err := family.FromAttrs(attrs); err != nil {
		probe.err = err
		return NL_SKIP
	}
	if family.Name == probe.name {
		probe.family = family
		probe.found = true
		if probe.stop {
			return NL_STOP
		}
	}
	return NL_SKIP
}

func (self *Socket) probeFamily(ctx context.Context, name string) (Family, error) {
	if err := self.usable("resolve"); err != nil {
		return Family{}, err
	}
	msg := NewMessage()
	if err := msg.PutGenlHeader(GENL_ID_CTRL, GenlMsghdr{
		Cmd:     CTRL_CMD_GETFAMILY,
		Version: CTRL_VERSION,
	}); err != nil {
		msg.Free()
		return Family{}, err
	}
	if err := msg.PutString(CTRL_ATTR_FAMILY_NAME, name); err != nil {
		msg.Free()
		return Family{}, err
	}
	peer := self.peer
	self.peer = 0
	err := self.Send(msg)
	self.peer = peer
	if err != nil {
		return Family{}, err
	}

	probe := &familyProbe{
		name: name,
		stop: self.flags&NL_NO_AUTO_ACK != 0,
	}
	if err := self.RecvAttrs(ctx, CTRL_ATTR_MAX, probeFamilyHandler, probe); err != nil {
		if KindOf(err) == ErrRemote {
			return Family{}, newError("resolve "+name, ErrFamilyNotFound, err)
		}
		return Family{}, err
	}
	if probe.err != nil {
		return Family{}, errors.Wrapf(probe.err, "resolve %s", name)
	}
	if !probe.found {
		return Family{}, newError("resolve "+name, ErrFamilyNotFound, unix.ENOENT)
	}
	self.families[name] = probe.family
	self.Log.WithField("family", name).Debugf("resolved to id %d", probe.family.ID)
	return probe.family, nil
}

// ResolveGroup returns the multicast group id of group in family.
func (self *Socket) ResolveGroup(family, group string) (uint32, error) {
	f, err := self.Family(family)
	if err != nil {
		return 0, err
	}
	if f.Groups == nil {
		if f, err = self.probeFamily(context.Background(), family); err != nil {
			return 0, err
		}
	}
	if id, ok := f.Groups[group]; ok {
		return id, nil
	}
	return 0, errors.Wrapf(ErrFamilyNotFound, "no multicast group %q in family %s", group, family)
}

// OpenEventSocket opens a socket on port joined to a multicast group of a
// family, resolving the group over a short lived command socket.
func OpenEventSocket(family, group string, port uint32) (*Socket, error) {
	return openEventSocket(dialSys, family, group, port)
}

func openEventSocket(dial dialFunc, family, group string, port uint32) (*Socket, error) {
	cmd, err := open(dial, unix.NETLINK_GENERIC, NL_AUTO_PORT)
	if err != nil {
		return nil, err
	}
	defer cmd.Close()

	id, err := cmd.ResolveGroup(family, group)
	if err != nil {
		return nil, err
	}
	ev, err := open(dial, unix.NETLINK_GENERIC, port)
	if err != nil {
		return nil, err
	}
	if err := ev.JoinGroup(id); err != nil {
		ev.Close()
		return nil, err
	}
	return ev, nil
}
