//go:build linux
// +build linux

package wlan

import (
	"testing"

	"github.com/hkwi/genl"
	"github.com/hkwi/genl/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const nl80211ID = 28

func frameOf(t *testing.T, msg *genl.Message) *genl.Msg {
	b, err := msg.Bytes()
	require.NoError(t, err)
	return &genl.Msg{
		Header: unix.NlMsghdr{
			Len:  uint32(len(b)),
			Type: nl80211ID,
		},
		Data: append([]byte(nil), b[genl.NLMSG_HDRLEN:]...),
	}
}

func TestSplitMACMessages(t *testing.T) {
	v := schema.Default().Vendor
	cmds := Commands{Family: nl80211ID, Vendor: v}

	for _, tc := range []struct {
		name   string
		build  func() (*genl.Message, error)
		subcmd uint32
		data   bool
	}{
		{"get", func() (*genl.Message, error) { return cmds.GetSplitMACMsg(3) }, v.SubcmdGetParam, false},
		{"set", func() (*genl.Message, error) { return cmds.SetSplitMACMsg(3, 1) }, v.SubcmdSetParam, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := tc.build()
			require.NoError(t, err)
			frame := frameOf(t, msg)

			hdr, err := frame.Genl()
			require.NoError(t, err)
			assert.Equal(t, uint8(unix.NL80211_CMD_VENDOR), hdr.Cmd)

			attrs, err := frame.Attrs(unix.NL80211_ATTR_MAX)
			require.NoError(t, err)
			for typ, want := range map[uint16]uint32{
				unix.NL80211_ATTR_VENDOR_ID:     v.OUI,
				unix.NL80211_ATTR_VENDOR_SUBCMD: tc.subcmd,
				unix.NL80211_ATTR_IFINDEX:       3,
			} {
				attr, ok := attrs.Get(typ)
				require.True(t, ok, "attribute %d", typ)
				got, err := attr.Uint32()
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}

			data, ok := attrs.Get(unix.NL80211_ATTR_VENDOR_DATA)
			require.True(t, ok)
			assert.True(t, data.Nested)
			inner, err := genl.DecodeNested(data, v.AttrConfigMax)
			require.NoError(t, err)

			value, _ := inner[v.AttrGenericValue].Uint32()
			assert.Equal(t, v.ParamSplitMAC, value)
			command, _ := inner[v.AttrGenericCommand].Uint32()
			assert.Equal(t, v.CmdWifiParams, command)
			_, hasData := inner.Get(v.AttrGenericData)
			assert.Equal(t, tc.data, hasData)
		})
	}
}

func vendorReply(t *testing.T, v schema.Vendor, inner map[uint16]uint32) *genl.Msg {
	msg := genl.NewMessage()
	require.NoError(t, msg.PutHeader(unix.NL80211_CMD_VENDOR, nl80211ID))
	require.NoError(t, msg.PutU32(unix.NL80211_ATTR_VENDOR_ID, v.OUI))
	require.NoError(t, msg.StartNested(unix.NL80211_ATTR_VENDOR_DATA))
	for typ, val := range inner {
		require.NoError(t, msg.PutU32(typ, val))
	}
	require.NoError(t, msg.EndNested())
	return frameOf(t, msg)
}

func TestParseVendorResponse(t *testing.T) {
	v := schema.Default().Vendor
	frame := vendorReply(t, v, map[uint16]uint32{
		v.AttrGenericValue: 1,
		v.AttrConfigMax + 1: 7,
	})

	resp := &VendorResponse{MaxAttr: v.AttrConfigMax}
	assert.Equal(t, genl.NL_SKIP, ParseVendorResponse(frame, resp))
	require.NoError(t, resp.Err)
	assert.Equal(t, map[uint16]uint32{v.AttrGenericValue: 1}, resp.Values)
}

func TestParseVendorResponseExpectedAttrs(t *testing.T) {
	v := schema.Default().Vendor
	frame := vendorReply(t, v, map[uint16]uint32{1: 10, 2: 20, 5: 50})
	frame.ExpectedAttrs = 2

	resp := &VendorResponse{}
	ParseVendorResponse(frame, resp)
	assert.Equal(t, map[uint16]uint32{1: 10, 2: 20}, resp.Values)
}

func vendorEvent(t *testing.T, v schema.Vendor, subcmd, command uint32, frame []byte) *genl.Msg {
	msg := genl.NewMessage()
	require.NoError(t, msg.PutHeader(unix.NL80211_CMD_VENDOR, nl80211ID))
	require.NoError(t, msg.PutU32(unix.NL80211_ATTR_VENDOR_ID, v.OUI))
	require.NoError(t, msg.PutU32(unix.NL80211_ATTR_VENDOR_SUBCMD, subcmd))
	require.NoError(t, msg.PutU32(unix.NL80211_ATTR_IFINDEX, 4))
	require.NoError(t, msg.StartNested(unix.NL80211_ATTR_VENDOR_DATA))
	require.NoError(t, msg.PutU32(v.AttrGenericCommand, command))
	require.NoError(t, msg.PutBytes(v.AttrGenericData, frame))
	require.NoError(t, msg.EndNested())
	return frameOf(t, msg)
}

func TestParseVendorEvent(t *testing.T) {
	v := schema.Default().Vendor
	var got []Frame
	sink := &EventSink{
		Vendor: v,
		OnFrame: func(ifindex uint32, f Frame) {
			assert.Equal(t, uint32(4), ifindex)
			got = append(got, f)
		},
	}

	ev := vendorEvent(t, v, v.SubcmdGetConfig, v.CmdFwdMgmtFrame, mgmtFrame(0xb0, 0, 0, 1, 0, 0, 0))
	assert.Equal(t, genl.NL_SKIP, ParseVendorEvent(ev, sink))
	require.Len(t, got, 1)
	assert.Equal(t, "auth frame", got[0].Name())

	// wrong generic command, wrong subcmd, truncated frame: all skipped
	for _, ev := range []*genl.Msg{
		vendorEvent(t, v, v.SubcmdGetConfig, v.CmdWifiParams, mgmtFrame(0xb0)),
		vendorEvent(t, v, v.SubcmdSetParam, v.CmdFwdMgmtFrame, mgmtFrame(0xb0)),
		vendorEvent(t, v, v.SubcmdGetConfig, v.CmdFwdMgmtFrame, []byte{0xb0, 0}),
	} {
		assert.Equal(t, genl.NL_SKIP, ParseVendorEvent(ev, sink))
	}
	assert.Len(t, got, 1)
}
