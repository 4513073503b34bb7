package model

import "testing"

func TestCommandRoundTrip(t *testing.T) {
	cmds := []Command{TurnOn(), TurnOff()}
	for lvl := 0; lvl <= 100; lvl++ {
		cmds = append(cmds, Dim(lvl))
	}
	for _, c := range cmds {
		got, err := ParseCommand(c.String())
		if err != nil {
			t.Fatalf("parse %q: %v", c.String(), err)
		}
		if got != c {
			t.Fatalf("round trip %q: got %+v want %+v", c.String(), got, c)
		}
	}
}

func TestCommandStrings(t *testing.T) {
	cases := []struct {
		cmd  Command
		want string
	}{
		{TurnOn(), "turn_on"},
		{TurnOff(), "turn_off"},
		{Dim(0), "dim_00"},
		{Dim(7), "dim_07"},
		{Dim(50), "dim_50"},
		{Dim(100), "dim_100"},
	}
	for _, c := range cases {
		if got := c.cmd.String(); got != c.want {
			t.Errorf("String() = %q want %q", got, c.want)
		}
	}
}

func TestParseCommandRejectsOutOfRange(t *testing.T) {
	for _, s := range []string{"dim_101", "dim_-1", "dim_abc", "blink", ""} {
		if _, err := ParseCommand(s); err == nil {
			t.Errorf("ParseCommand(%q) accepted invalid command", s)
		}
	}
}

func TestPayloadEncoding(t *testing.T) {
	cases := []struct {
		cmd  Command
		kind TargetKind
		want string
	}{
		{TurnOn(), TargetDevice, "9529-ON"},
		{TurnOff(), TargetDeviceGroup, "9529-OF"},
		{Dim(50), TargetDevice, "9529-DM50"},
		{Dim(7), TargetDeviceGroup, "9529-DM007"},
		{Dim(100), TargetDeviceGroup, "9529-DM100"},
	}
	for _, c := range cases {
		if got := string(c.cmd.Payload(c.kind)); got != c.want {
			t.Errorf("Payload(%s, %s) = %q want %q", c.cmd, c.kind, got, c.want)
		}
	}
}

func TestTargetKindRoundTrip(t *testing.T) {
	for _, k := range []TargetKind{TargetDevice, TargetDeviceGroup} {
		got, err := ParseTargetKind(k.String())
		if err != nil {
			t.Fatalf("parse %q: %v", k, err)
		}
		if got != k {
			t.Fatalf("round trip %q", k)
		}
	}
	if _, err := ParseTargetKind("lamp"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
