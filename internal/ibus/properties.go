package ibus

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"speak2type/internal/domain"
)

const (
	propToggleRecording = "toggle-recording"
	propMode            = "mode"

	propTypeNormal uint32 = 0
	propTypeToggle uint32 = 1

	propStateUnchecked uint32 = 0
	propStateChecked   uint32 = 1

	microphoneIcon = "audio-input-microphone"
)

// ibusProperty is the serialized IBusProperty: (sa{sv}suvsvbbuvv).
type ibusProperty struct {
	Name        string
	Attachments map[string]dbus.Variant
	Key         string
	Type        uint32
	Label       dbus.Variant
	Icon        string
	Tooltip     dbus.Variant
	Sensitive   bool
	Visible     bool
	State       uint32
	SubProps    dbus.Variant
	Symbol      dbus.Variant
}

// ibusPropList is the serialized IBusPropList: (sa{sv}av).
type ibusPropList struct {
	Name        string
	Attachments map[string]dbus.Variant
	Properties  []dbus.Variant
}

// ModeLabel is the panel's description of how recording is triggered.
func ModeLabel(mode domain.RecordMode, chord domain.KeyChord) string {
	if mode == domain.RecordToggle {
		return fmt.Sprintf("Toggle (%s)", chord.Describe())
	}
	return fmt.Sprintf("Push-to-talk (%s)", chord.Describe())
}

func recordingProperty(state domain.EngineState) ibusProperty {
	label, checked := "Recognition off", propStateUnchecked
	switch state {
	case domain.StateRecording:
		label, checked = "Recording…", propStateChecked
	case domain.StateTranscribing, domain.StateCommitting:
		label, checked = "Transcribing…", propStateChecked
	}
	prop := newProperty(propToggleRecording, propTypeToggle, label)
	prop.Icon = microphoneIcon
	prop.Tooltip = textVariant("Toggle speech recognition")
	prop.State = checked
	return prop
}

func modeProperty(label string) ibusProperty {
	prop := newProperty(propMode, propTypeNormal, label)
	prop.Sensitive = false
	return prop
}

func newProperty(key string, kind uint32, label string) ibusProperty {
	return ibusProperty{
		Name:        "IBusProperty",
		Attachments: map[string]dbus.Variant{},
		Key:         key,
		Type:        kind,
		Label:       textVariant(label),
		Tooltip:     textVariant(""),
		Sensitive:   true,
		Visible:     true,
		State:       propStateUnchecked,
		SubProps:    propListVariant(),
		Symbol:      textVariant(""),
	}
}

func propListVariant(props ...ibusProperty) dbus.Variant {
	list := ibusPropList{
		Name:        "IBusPropList",
		Attachments: map[string]dbus.Variant{},
		Properties:  []dbus.Variant{},
	}
	for _, prop := range props {
		list.Properties = append(list.Properties, dbus.MakeVariant(prop))
	}
	return dbus.MakeVariant(list)
}
