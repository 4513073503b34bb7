package model

import "fmt"

// TargetKind distinguishes individual devices from multicast groups.
type TargetKind int

const (
	TargetDevice TargetKind = iota
	TargetDeviceGroup
)

// String returns the store representation of the kind.
func (k TargetKind) String() string {
	switch k {
	case TargetDevice:
		return "device"
	case TargetDeviceGroup:
		return "device_group"
	default:
		return "unknown"
	}
}

// ParseTargetKind decodes the store representation.
func ParseTargetKind(s string) (TargetKind, error) {
	switch s {
	case "device":
		return TargetDevice, nil
	case "device_group":
		return TargetDeviceGroup, nil
	default:
		return 0, fmt.Errorf("unknown target kind %q", s)
	}
}

// Target is the addressee of a downlink: a device EUI or a multicast group id.
type Target struct {
	Kind TargetKind
	ID   string
}

// Key returns a stable map key for per-target structures.
func (t Target) Key() string { return t.Kind.String() + ":" + t.ID }

func (t Target) String() string { return t.Key() }
