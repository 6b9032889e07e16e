//go:build linux
// +build linux

package genl

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type familyRegistry struct {
	lock   sync.Mutex
	family map[string]Family
}

var genlRegistry = &familyRegistry{
	family: make(map[string]Family),
}

// RegisterFamily records f for this process. Resolution still asks the
// kernel first; f.ID is used only when the kernel does not know f.Name.
// Registering a name twice fails with ErrFamilyExists unless allowExists is
// set, in which case the first registration stays.
func RegisterFamily(f Family, allowExists bool) error {
	if f.Name == "" {
		return errors.Wrap(ErrInvalidArgument, "family without name")
	}
	if len(f.Name) >= GENL_NAMSIZ {
		return errors.Wrapf(ErrInvalidArgument, "family name %q longer than %d", f.Name, GENL_NAMSIZ-1)
	}

	genlRegistry.lock.Lock()
	defer genlRegistry.lock.Unlock()

	if prev, ok := genlRegistry.family[f.Name]; ok {
		if allowExists {
			logrus.WithField("family", f.Name).Debugf("already registered with id %d", prev.ID)
			return nil
		}
		return errors.Wrapf(ErrFamilyExists, "family %s registered with id %d", f.Name, prev.ID)
	}
	genlRegistry.family[f.Name] = f
	return nil
}

func UnregisterFamily(name string) {
	genlRegistry.lock.Lock()
	defer genlRegistry.lock.Unlock()

	delete(genlRegistry.family, name)
}

func lookupFamily(name string) (Family, bool) {
	genlRegistry.lock.Lock()
	defer genlRegistry.lock.Unlock()

	f, ok := genlRegistry.family[name]
	return f, ok
}

// TrackFamilies is a Handler for sockets joined to the nlctrl "notify"
// group. It keeps the registry in step with families and multicast groups
// the kernel adds and removes.
func TrackFamilies(msg *Msg, arg interface{}) Action {
	if msg.Header.Type != GENL_ID_CTRL {
		return NL_SKIP
	}
	hdr, err := msg.Genl()
	if err != nil {
		logrus.WithError(err).Warn("nlctrl notification")
		return NL_SKIP
	}
	attrs, err := msg.Attrs(CTRL_ATTR_MAX)
	if err == nil {
		err = CtrlPolicy.Validate(attrs)
	}
	if err != nil {
		logrus.WithError(err).Warn("nlctrl notification")
		return NL_SKIP
	}
	var family Family
	if err := family.FromAttrs(attrs); err != nil {
		logrus.WithError(err).Warn("nlctrl notification")
		return NL_SKIP
	}

	genlRegistry.lock.Lock()
	defer genlRegistry.lock.Unlock()

	switch hdr.Cmd {
	case CTRL_CMD_NEWFAMILY:
		genlRegistry.family[family.Name] = family
	case CTRL_CMD_DELFAMILY:
		delete(genlRegistry.family, family.Name)
	case CTRL_CMD_NEWMCAST_GRP:
		if rfamily, ok := genlRegistry.family[family.Name]; ok {
			groups := make(map[string]uint32)
			for name, id := range rfamily.Groups {
				groups[name] = id
			}
			for name, id := range family.Groups {
				groups[name] = id
			}
			rfamily.Groups = groups
			genlRegistry.family[family.Name] = rfamily
		}
	case CTRL_CMD_DELMCAST_GRP:
		if rfamily, ok := genlRegistry.family[family.Name]; ok {
			groups := make(map[string]uint32)
			for name, id := range rfamily.Groups {
				if _, gone := family.Groups[name]; !gone {
					groups[name] = id
				}
			}
			rfamily.Groups = groups
			genlRegistry.family[family.Name] = rfamily
		}
	}
	logrus.WithFields(logrus.Fields{
		"cmd":    hdr.Cmd,
		"family": family.Name,
	}).Debug(CtrlPolicy.Dump(attrs))
	return NL_OK
}
