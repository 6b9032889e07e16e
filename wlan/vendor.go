//go:build linux
// +build linux

// Package wlan speaks the nl80211 vendor command interface of QCA drivers:
// the split-mac parameter get and set commands, and the vendor event that
// forwards 802.11 management frames to user space.
package wlan

import (
	"github.com/hkwi/genl"
	"github.com/hkwi/genl/schema"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// IfIndex returns the kernel index of the named interface.
func IfIndex(name string) (uint32, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, errors.Wrapf(err, "interface %s", name)
	}
	return uint32(link.Attrs().Index), nil
}

// Commands builds vendor requests for one resolved nl80211 family.
type Commands struct {
	Family uint16
	Vendor schema.Vendor
}

// GetSplitMACMsg asks the driver of ifindex for the split-mac parameter.
func (self Commands) GetSplitMACMsg(ifindex uint32) (*genl.Message, error) {
	return self.paramMsg(self.Vendor.SubcmdGetParam, ifindex, nil)
}

func (self Commands) SetSplitMACMsg(ifindex, value uint32) (*genl.Message, error) {
	return self.paramMsg(self.Vendor.SubcmdSetParam, ifindex, &value)
}

func (self Commands) paramMsg(subcmd, ifindex uint32, value *uint32) (*genl.Message, error) {
	v := self.Vendor
	msg := genl.NewMessage()
	steps := []func() error{
		func() error { return msg.PutHeader(unix.NL80211_CMD_VENDOR, self.Family) },
		func() error { return msg.PutU32(unix.NL80211_ATTR_VENDOR_ID, v.OUI) },
		func() error { return msg.PutU32(unix.NL80211_ATTR_VENDOR_SUBCMD, subcmd) },
		func() error { return msg.PutU32(unix.NL80211_ATTR_IFINDEX, ifindex) },
		func() error { return msg.StartNested(unix.NL80211_ATTR_VENDOR_DATA) },
		func() error { return msg.PutU32(v.AttrGenericValue, v.ParamSplitMAC) },
		func() error { return msg.PutU32(v.AttrGenericCommand, v.CmdWifiParams) },
	}
	if value != nil {
		steps = append(steps, func() error { return msg.PutU32(v.AttrGenericData, *value) })
	}
	steps = append(steps, msg.EndNested)
	for _, step := range steps {
		if err := step(); err != nil {
			msg.Free()
			return nil, errors.Wrap(err, "vendor message")
		}
	}
	return msg, nil
}

// VendorResponse collects the u32 values of a vendor data block. Pass it as
// the Recv argument of ParseVendorResponse.
type VendorResponse struct {
	MaxAttr uint16 // 0 takes the expected attribute count of the receive loop
	Values  map[uint16]uint32
	Err     error
}

// ParseVendorResponse decodes NL80211_ATTR_VENDOR_DATA of a reply. It skips
// the frame either way so the ACK that follows ends the exchange.
func ParseVendorResponse(msg *genl.Msg, arg interface{}) genl.Action {
	resp := arg.(*VendorResponse)
	if resp.Values == nil {
		resp.Values = make(map[uint16]uint32)
	}
	attrs, err := msg.Attrs(unix.NL80211_ATTR_MAX)
	if err != nil {
		resp.Err = err
		return genl.NL_SKIP
	}
	data, ok := attrs.Get(unix.NL80211_ATTR_VENDOR_DATA)
	if !ok {
		logrus.Debug("vendor data not found in response, skipping")
		return genl.NL_SKIP
	}
	maxAttr := resp.MaxAttr
	if maxAttr == 0 && msg.ExpectedAttrs > 0 {
		maxAttr = uint16(msg.ExpectedAttrs)
	}
	inner, err := genl.DecodeNested(data, maxAttr)
	if err != nil {
		resp.Err = err
		return genl.NL_SKIP
	}
	logrus.Debugf("vendor data parsed, len=%d", len(data.Payload))
	for typ, attr := range inner {
		if v, err := attr.Uint32(); err == nil {
			resp.Values[typ] = v
			logrus.WithField("attr", typ).Infof("value: %d", v)
		}
	}
	return genl.NL_SKIP
}

// EventSink validates vendor events carrying forwarded management frames.
// Pass it as the Recv argument of ParseVendorEvent.
type EventSink struct {
	Vendor  schema.Vendor
	OnFrame func(ifindex uint32, frame Frame)
}

// ParseVendorEvent hands every valid forwarded frame to the sink. Invalid
// events are logged and skipped; the loop keeps running.
func ParseVendorEvent(msg *genl.Msg, arg interface{}) genl.Action {
	sink := arg.(*EventSink)
	if err := sink.handle(msg); err != nil {
		logrus.WithError(err).Error("event payload is invalid, skipping")
	}
	return genl.NL_SKIP
}

func (self *EventSink) handle(msg *genl.Msg) error {
	hdr, err := msg.Genl()
	if err != nil {
		return err
	}
	if hdr.Cmd != unix.NL80211_CMD_VENDOR {
		return errors.Errorf("event cmd %d is not NL80211_CMD_VENDOR", hdr.Cmd)
	}
	attrs, err := msg.Attrs(unix.NL80211_ATTR_MAX)
	if err != nil {
		return err
	}
	if vendor, err := u32(attrs, unix.NL80211_ATTR_VENDOR_ID, "VENDOR_ID"); err != nil {
		return err
	} else if vendor != self.Vendor.OUI {
		return errors.Errorf("VENDOR_ID %06x is not %06x", vendor, self.Vendor.OUI)
	}
	if subcmd, err := u32(attrs, unix.NL80211_ATTR_VENDOR_SUBCMD, "VENDOR_SUBCMD"); err != nil {
		return err
	} else if subcmd != self.Vendor.SubcmdGetConfig {
		return errors.Errorf("VENDOR_SUBCMD %d is not %d", subcmd, self.Vendor.SubcmdGetConfig)
	}
	ifindex, err := u32(attrs, unix.NL80211_ATTR_IFINDEX, "IFINDEX")
	if err != nil {
		return err
	}
	data, ok := attrs.Get(unix.NL80211_ATTR_VENDOR_DATA)
	if !ok {
		return errors.New("VENDOR_DATA not found")
	}
	inner, err := genl.DecodeNested(data, self.Vendor.AttrConfigMax)
	if err != nil {
		return errors.Wrap(err, "VENDOR_DATA")
	}
	if cmd, err := u32(inner, self.Vendor.AttrGenericCommand, "generic command"); err != nil {
		return err
	} else if cmd != self.Vendor.CmdFwdMgmtFrame {
		return errors.Errorf("generic command %d is not %d", cmd, self.Vendor.CmdFwdMgmtFrame)
	}
	raw, ok := inner.Get(self.Vendor.AttrGenericData)
	if !ok {
		return errors.New("generic data not found")
	}
	frame, err := ParseFrame(raw.Payload)
	if err != nil {
		return err
	}
	frame.log(ifindex)
	if self.OnFrame != nil {
		self.OnFrame(ifindex, frame)
	}
	return nil
}

func u32(attrs genl.AttrIndex, typ uint16, name string) (uint32, error) {
	attr, ok := attrs.Get(typ)
	if !ok {
		return 0, errors.Errorf("%s not found", name)
	}
	return attr.Uint32()
}
