package wlan

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// minimal management header: frame control, duration, three addresses,
// sequence control
const ieee80211HdrLen = 24

// Frame is the part of a forwarded management frame the tools report.
type Frame struct {
	Type layers.Dot11Type
	SA   net.HardwareAddr
	DA   net.HardwareAddr
	BSS  net.HardwareAddr
	Seq  uint16
}

var frameNames = map[layers.Dot11Type]string{
	layers.Dot11TypeMgmtBeacon:            "beacon frame",
	layers.Dot11TypeMgmtProbeReq:          "probe req",
	layers.Dot11TypeMgmtProbeResp:         "probe resp",
	layers.Dot11TypeMgmtAuthentication:    "auth frame",
	layers.Dot11TypeMgmtDeauthentication:  "deauth frame",
	layers.Dot11TypeMgmtDisassociation:    "disassoc frame",
	layers.Dot11TypeMgmtAction:            "action frame",
	layers.Dot11TypeMgmtAssociationReq:    "assoc req",
	layers.Dot11TypeMgmtAssociationResp:   "assoc resp",
	layers.Dot11TypeMgmtReassociationReq:  "reassoc req",
	layers.Dot11TypeMgmtReassociationResp: "reassoc resp",
}

// Name is a short description of the subtype.
func (self Frame) Name() string {
	if n, ok := frameNames[self.Type]; ok {
		return n
	}
	return "subtype not covered: " + self.Type.String()
}

// Noisy reports subtypes sent continuously, beacons and probes.
func (self Frame) Noisy() bool {
	switch self.Type {
	case layers.Dot11TypeMgmtBeacon, layers.Dot11TypeMgmtProbeReq, layers.Dot11TypeMgmtProbeResp:
		return true
	}
	return false
}

func (self Frame) log(ifindex uint32) {
	entry := logrus.WithFields(logrus.Fields{
		"ifindex": ifindex,
		"type":    self.Name(),
	})
	if self.Noisy() {
		entry.Debugf("%s -> %s", self.SA, self.DA)
	} else {
		entry.Infof("%s -> %s", self.SA, self.DA)
	}
}

// ParseFrame decodes an 802.11 management frame as the driver forwards it,
// without FCS.
func ParseFrame(b []byte) (Frame, error) {
	if len(b) < ieee80211HdrLen {
		return Frame{}, errors.Errorf("frame size %d too small, expected at least %d", len(b), ieee80211HdrLen)
	}
	// gopacket strips a trailing FCS from every Dot11 frame
	data := make([]byte, len(b)+4)
	copy(data, b)

	p := gopacket.NewPacket(data, layers.LinkTypeIEEE802_11, gopacket.NoCopy)
	dot11, ok := p.Layer(layers.LayerTypeDot11).(*layers.Dot11)
	if !ok {
		if fail := p.ErrorLayer(); fail != nil {
			return Frame{}, errors.Wrap(fail.Error(), "decode 802.11 header")
		}
		return Frame{}, errors.New("no 802.11 header")
	}
	if dot11.Type.MainType() != layers.Dot11TypeMgmt {
		return Frame{}, errors.Errorf("frame type %s is not management", dot11.Type)
	}
	return Frame{
		Type: dot11.Type,
		DA:   dot11.Address1,
		SA:   dot11.Address2,
		BSS:  dot11.Address3,
		Seq:  dot11.SequenceNumber,
	}, nil
}
