//go:build linux
// +build linux

package genl

type GenlMsghdr struct {
	Cmd     uint8
	Version uint8
	_       uint16
}

const SizeofGenlMsghdr = 0x04

var GENL_HDRLEN int = NLMSG_ALIGN(SizeofGenlMsghdr)

const (
	GENL_ADMIN_PERM = 1 << iota
	GENL_CMD_CAP_DO
	GENL_CMD_CAP_DUMP
	GENL_CMD_CAP_HASPOL
)

const (
	GENL_ID_GENERATE = 0
	GENL_ID_CTRL     = 0x10
)

const GENL_NAMSIZ = 16

const CTRL_VERSION = 0x0001

const (
	CTRL_CMD_UNSPEC = iota
	CTRL_CMD_NEWFAMILY
	CTRL_CMD_DELFAMILY
	CTRL_CMD_GETFAMILY
	CTRL_CMD_NEWOPS
	CTRL_CMD_DELOPS
	CTRL_CMD_GETOPS
	CTRL_CMD_NEWMCAST_GRP
	CTRL_CMD_DELMCAST_GRP
	CTRL_CMD_GETMCAST_GRP
	CTRL_CMD_GETPOLICY
)

// CTRL

const (
	CTRL_ATTR_UNSPEC = iota
	CTRL_ATTR_FAMILY_ID
	CTRL_ATTR_FAMILY_NAME
	CTRL_ATTR_VERSION
	CTRL_ATTR_HDRSIZE
	CTRL_ATTR_MAXATTR
	CTRL_ATTR_OPS
	CTRL_ATTR_MCAST_GROUPS
	CTRL_ATTR_POLICY
	CTRL_ATTR_OP_POLICY
	CTRL_ATTR_OP
	CTRL_ATTR_MAX = CTRL_ATTR_OP
)

const (
	CTRL_ATTR_OP_UNSPEC = iota
	CTRL_ATTR_OP_ID
	CTRL_ATTR_OP_FLAGS // GENL_CMD_CAP_DUMP, etc.,
	CTRL_ATTR_OP_MAX = CTRL_ATTR_OP_FLAGS
)

const (
	CTRL_ATTR_MCAST_GRP_UNSPEC = iota
	CTRL_ATTR_MCAST_GRP_NAME
	CTRL_ATTR_MCAST_GRP_ID
	CTRL_ATTR_MCAST_GRP_MAX = CTRL_ATTR_MCAST_GRP_ID
)

var CtrlGroupPolicy = Policy{
	Prefix:  "MCAST_GRP",
	MaxType: CTRL_ATTR_MCAST_GRP_MAX,
	Names: map[uint16]string{
		CTRL_ATTR_MCAST_GRP_NAME: "NAME",
		CTRL_ATTR_MCAST_GRP_ID:   "ID",
	},
	Rule: map[uint16]Kind{
		CTRL_ATTR_MCAST_GRP_NAME: NLA_NUL_STRING,
		CTRL_ATTR_MCAST_GRP_ID:   NLA_U32,
	},
}

var CtrlOpPolicy = Policy{
	Prefix:  "OP",
	MaxType: CTRL_ATTR_OP_MAX,
	Names: map[uint16]string{
		CTRL_ATTR_OP_ID:    "ID",
		CTRL_ATTR_OP_FLAGS: "FLAGS",
	},
	Rule: map[uint16]Kind{
		CTRL_ATTR_OP_ID:    NLA_U32,
		CTRL_ATTR_OP_FLAGS: NLA_U32,
	},
}

var CtrlPolicy = Policy{
	Prefix:  "CTRL_ATTR",
	MaxType: CTRL_ATTR_MAX,
	Names: map[uint16]string{
		CTRL_ATTR_FAMILY_ID:    "FAMILY_ID",
		CTRL_ATTR_FAMILY_NAME:  "FAMILY_NAME",
		CTRL_ATTR_VERSION:      "VERSION",
		CTRL_ATTR_HDRSIZE:      "HDRSIZE",
		CTRL_ATTR_MAXATTR:      "MAXATTR",
		CTRL_ATTR_OPS:          "OPS",
		CTRL_ATTR_MCAST_GROUPS: "MCAST_GROUPS",
	},
	Rule: map[uint16]Kind{
		CTRL_ATTR_FAMILY_ID:    NLA_U16,
		CTRL_ATTR_FAMILY_NAME:  NLA_NUL_STRING,
		CTRL_ATTR_VERSION:      NLA_U32,
		CTRL_ATTR_HDRSIZE:      NLA_U32,
		CTRL_ATTR_MAXATTR:      NLA_U32,
		CTRL_ATTR_OPS:          NLA_NESTED,
		CTRL_ATTR_MCAST_GROUPS: NLA_NESTED,
	},
}
