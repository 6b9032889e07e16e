//go:build linux
// +build linux

package genl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterFamily(t *testing.T) {
	defer UnregisterFamily("reg_family")

	require.NoError(t, RegisterFamily(Family{Name: "reg_family", ID: 1024}, false))
	err := RegisterFamily(Family{Name: "reg_family", ID: 1025}, false)
	assert.Equal(t, ErrFamilyExists, KindOf(err))

	require.NoError(t, RegisterFamily(Family{Name: "reg_family", ID: 1025}, true))
	f, ok := lookupFamily("reg_family")
	require.True(t, ok)
	assert.Equal(t, uint16(1024), f.ID)

	UnregisterFamily("reg_family")
	_, ok = lookupFamily("reg_family")
	assert.False(t, ok)
}

func TestRegisterFamilyInvalidName(t *testing.T) {
	assert.Equal(t, ErrInvalidArgument, KindOf(RegisterFamily(Family{ID: 1024}, true)))
	name := strings.Repeat("x", GENL_NAMSIZ)
	assert.Equal(t, ErrInvalidArgument, KindOf(RegisterFamily(Family{Name: name, ID: 1024}, true)))
	_, ok := lookupFamily(name)
	assert.False(t, ok)
}

func notification(t *testing.T, cmd uint8, id uint16, name string, groups map[string]uint32) *Msg {
	b := genlFrame(GENL_ID_CTRL, cmd, 0, familyAttrs(t, id, name, groups))
	msgs, err := parseMessages(b)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return &msgs[0]
}

func TestTrackFamilies(t *testing.T) {
	defer UnregisterFamily("hot_family")

	act := TrackFamilies(notification(t, CTRL_CMD_NEWFAMILY, 50, "hot_family", map[string]uint32{"config": 7}), nil)
	assert.Equal(t, NL_OK, act)
	f, ok := lookupFamily("hot_family")
	require.True(t, ok)
	assert.Equal(t, uint16(50), f.ID)
	assert.Equal(t, map[string]uint32{"config": 7}, f.Groups)

	TrackFamilies(notification(t, CTRL_CMD_NEWMCAST_GRP, 50, "hot_family", map[string]uint32{"scan": 8}), nil)
	f, _ = lookupFamily("hot_family")
	assert.Equal(t, map[string]uint32{"config": 7, "scan": 8}, f.Groups)

	TrackFamilies(notification(t, CTRL_CMD_DELMCAST_GRP, 50, "hot_family", map[string]uint32{"config": 7}), nil)
	f, _ = lookupFamily("hot_family")
	assert.Equal(t, map[string]uint32{"scan": 8}, f.Groups)

	TrackFamilies(notification(t, CTRL_CMD_DELFAMILY, 50, "hot_family", nil), nil)
	_, ok = lookupFamily("hot_family")
	assert.False(t, ok)
}

func TestTrackFamiliesIgnoresOthers(t *testing.T) {
	msgs, err := parseMessages(genlFrame(1024, CTRL_CMD_NEWFAMILY, 0, familyAttrs(t, 51, "fake_family", nil)))
	require.NoError(t, err)
	assert.Equal(t, NL_SKIP, TrackFamilies(&msgs[0], nil))

	bad, _ := EncodeAttr(nil, CTRL_ATTR_FAMILY_ID, uint32(51))
	msgs, err = parseMessages(genlFrame(GENL_ID_CTRL, CTRL_CMD_NEWFAMILY, 0, bad))
	require.NoError(t, err)
	assert.Equal(t, NL_SKIP, TrackFamilies(&msgs[0], nil))

	_, ok := lookupFamily("fake_family")
	assert.False(t, ok)
}
