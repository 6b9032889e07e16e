// Package schema holds the numeric layout of the families the tools speak:
// family name and id, command and attribute numbers, ports, and the nl80211
// vendor ids. Defaults match the ar7ch demo family and the QCA vendor
// interface; a TOML file may override any key.
package schema

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const Version = 1

type Family struct {
	Name        string `toml:"name"`
	ID          uint16 `toml:"id"`
	CmdRequest  uint8  `toml:"cmd_request"`
	CmdResponse uint8  `toml:"cmd_response"`
	AttrPayload uint16 `toml:"attr_payload"`
	AttrMax     uint16 `toml:"attr_max"`
}

type Ports struct {
	Command uint32 `toml:"command"`
	Event   uint32 `toml:"event"`
}

// Vendor describes the nl80211 vendor command interface used by wlanctl.
type Vendor struct {
	Family     string `toml:"family"`
	EventGroup string `toml:"event_group"`
	OUI        uint32 `toml:"oui"`

	SubcmdSetParam  uint32 `toml:"subcmd_set_param"`
	SubcmdGetParam  uint32 `toml:"subcmd_get_param"`
	SubcmdGetConfig uint32 `toml:"subcmd_get_config"`

	CmdWifiParams   uint32 `toml:"cmd_wifi_params"`
	CmdFwdMgmtFrame uint32 `toml:"cmd_fwd_mgmt_frame"`

	AttrGenericCommand uint16 `toml:"attr_generic_command"`
	AttrGenericValue   uint16 `toml:"attr_generic_value"`
	AttrGenericData    uint16 `toml:"attr_generic_data"`
	AttrConfigMax      uint16 `toml:"attr_config_max"`

	ParamSplitMAC uint32 `toml:"param_splitmac"`
}

type Schema struct {
	Version int    `toml:"version"`
	Family  Family `toml:"family"`
	Ports   Ports  `toml:"ports"`
	Vendor  Vendor `toml:"vendor"`
}

func Default() Schema {
	return Schema{
		Version: Version,
		Family: Family{
			Name:        "ar7ch",
			ID:          1024,
			CmdRequest:  0,
			CmdResponse: 1,
			AttrPayload: 0,
			AttrMax:     2,
		},
		Ports: Ports{
			Command: 888,
			Event:   889,
		},
		Vendor: Vendor{
			Family:             "nl80211",
			EventGroup:         "vendor",
			OUI:                0x001374,
			SubcmdSetParam:     74,
			SubcmdGetParam:     75,
			SubcmdGetConfig:    75,
			CmdWifiParams:      200,
			CmdFwdMgmtFrame:    201,
			AttrGenericCommand: 17,
			AttrGenericValue:   18,
			AttrGenericData:    19,
			AttrConfigMax:      64,
			ParamSplitMAC:      704,
		},
	}
}

// Load decodes path over the defaults. Keys absent from the file keep their
// default value.
func Load(path string) (Schema, error) {
	s := Default()

	var raw Schema
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if os.IsNotExist(err) {
			return Schema{}, errors.Wrap(err, "load schema")
		}
		return Schema{}, errors.Wrapf(err, "parse schema %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		var keys []string
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Schema{}, errors.Errorf("schema %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("version") {
		if raw.Version > Version {
			return Schema{}, errors.Errorf("schema %s: version %d is newer than %d", path, raw.Version, Version)
		}
		s.Version = raw.Version
	}

	if meta.IsDefined("family", "name") {
		s.Family.Name = strings.TrimSpace(raw.Family.Name)
	}
	if meta.IsDefined("family", "id") {
		s.Family.ID = raw.Family.ID
	}
	if meta.IsDefined("family", "cmd_request") {
		s.Family.CmdRequest = raw.Family.CmdRequest
	}
	if meta.IsDefined("family", "cmd_response") {
		s.Family.CmdResponse = raw.Family.CmdResponse
	}
	if meta.IsDefined("family", "attr_payload") {
		s.Family.AttrPayload = raw.Family.AttrPayload
	}
	if meta.IsDefined("family", "attr_max") {
		s.Family.AttrMax = raw.Family.AttrMax
	}

	if meta.IsDefined("ports", "command") {
		s.Ports.Command = raw.Ports.Command
	}
	if meta.IsDefined("ports", "event") {
		s.Ports.Event = raw.Ports.Event
	}

	v := &s.Vendor
	rv := raw.Vendor
	for _, f := range []struct {
		key string
		set func()
	}{
		{"family", func() { v.Family = strings.TrimSpace(rv.Family) }},
		{"event_group", func() { v.EventGroup = strings.TrimSpace(rv.EventGroup) }},
		{"oui", func() { v.OUI = rv.OUI }},
		{"subcmd_set_param", func() { v.SubcmdSetParam = rv.SubcmdSetParam }},
		{"subcmd_get_param", func() { v.SubcmdGetParam = rv.SubcmdGetParam }},
		{"subcmd_get_config", func() { v.SubcmdGetConfig = rv.SubcmdGetConfig }},
		{"cmd_wifi_params", func() { v.CmdWifiParams = rv.CmdWifiParams }},
		{"cmd_fwd_mgmt_frame", func() { v.CmdFwdMgmtFrame = rv.CmdFwdMgmtFrame }},
		{"attr_generic_command", func() { v.AttrGenericCommand = rv.AttrGenericCommand }},
		{"attr_generic_value", func() { v.AttrGenericValue = rv.AttrGenericValue }},
		{"attr_generic_data", func() { v.AttrGenericData = rv.AttrGenericData }},
		{"attr_config_max", func() { v.AttrConfigMax = rv.AttrConfigMax }},
		{"param_splitmac", func() { v.ParamSplitMAC = rv.ParamSplitMAC }},
	} {
		if meta.IsDefined("vendor", f.key) {
			f.set()
		}
	}

	if err := s.Validate(); err != nil {
		return Schema{}, errors.Wrap(err, path)
	}
	return s, nil
}

// Validate rejects layouts the library cannot encode.
func (s Schema) Validate() error {
	if s.Family.Name == "" {
		return errors.New("family name is empty")
	}
	if len(s.Family.Name) >= 16 {
		return errors.Errorf("family name %q is longer than 15 bytes", s.Family.Name)
	}
	if s.Family.AttrPayload > s.Family.AttrMax {
		return errors.Errorf("payload attribute %d above attr_max %d", s.Family.AttrPayload, s.Family.AttrMax)
	}
	if s.Vendor.AttrGenericCommand > s.Vendor.AttrConfigMax ||
		s.Vendor.AttrGenericValue > s.Vendor.AttrConfigMax ||
		s.Vendor.AttrGenericData > s.Vendor.AttrConfigMax {
		return errors.Errorf("vendor generic attributes above attr_config_max %d", s.Vendor.AttrConfigMax)
	}
	return nil
}
