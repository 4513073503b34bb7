package model

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandKind discriminates the closed set of streetlamp commands.
type CommandKind int

const (
	CommandTurnOn CommandKind = iota
	CommandTurnOff
	CommandDim
)

// Command is a single lighting instruction. Level is only meaningful for
// CommandDim and ranges 0-100.
type Command struct {
	Kind  CommandKind
	Level int
}

// TurnOn returns the turn_on command.
func TurnOn() Command { return Command{Kind: CommandTurnOn} }

// TurnOff returns the turn_off command.
func TurnOff() Command { return Command{Kind: CommandTurnOff} }

// Dim returns a dim command at the given brightness percentage.
func Dim(level int) Command { return Command{Kind: CommandDim, Level: level} }

// Validate checks the dim level range.
func (c Command) Validate() error {
	if c.Kind == CommandDim && (c.Level < 0 || c.Level > 100) {
		return fmt.Errorf("dim level %d out of range [0,100]", c.Level)
	}
	return nil
}

// String renders the stable wire vocabulary: turn_on, turn_off, dim_NN.
// Dim levels below 100 are zero-padded to two digits.
func (c Command) String() string {
	switch c.Kind {
	case CommandTurnOn:
		return "turn_on"
	case CommandTurnOff:
		return "turn_off"
	case CommandDim:
		return fmt.Sprintf("dim_%02d", c.Level)
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Command) MarshalText() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Command) UnmarshalText(b []byte) error {
	cmd, err := ParseCommand(string(b))
	if err != nil {
		return err
	}
	*c = cmd
	return nil
}

// ParseCommand decodes a wire command string.
func ParseCommand(s string) (Command, error) {
	switch {
	case s == "turn_on":
		return TurnOn(), nil
	case s == "turn_off":
		return TurnOff(), nil
	case strings.HasPrefix(s, "dim_"):
		v, err := strconv.Atoi(strings.TrimPrefix(s, "dim_"))
		if err != nil {
			return Command{}, fmt.Errorf("invalid command %q: %w", s, err)
		}
		cmd := Dim(v)
		if err := cmd.Validate(); err != nil {
			return Command{}, fmt.Errorf("invalid command %q: %w", s, err)
		}
		return cmd, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", s)
	}
}

// Payload encodes the command in the firmware downlink protocol for the given
// target kind. Multicast dim levels are zero-padded to three digits; device
// dim levels are sent unpadded.
func (c Command) Payload(kind TargetKind) []byte {
	switch c.Kind {
	case CommandTurnOn:
		return []byte("9529-ON")
	case CommandTurnOff:
		return []byte("9529-OF")
	default:
		if kind == TargetDeviceGroup {
			return []byte(fmt.Sprintf("9529-DM%03d", c.Level))
		}
		return []byte(fmt.Sprintf("9529-DM%d", c.Level))
	}
}
