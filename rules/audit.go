package rules

import (
	"errors"
	"fmt"

	"github.com/fatih/color"

	"portguard/config"
)

var ErrAuditMismatch = errors.New("enforced configuration differs from file")

// Mismatch is one field whose enforced value differs from the file.
type Mismatch struct {
	Field    string
	Expected string
	Enforced string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: expected %s, enforced %s", m.Field, m.Expected, m.Enforced)
}

// Diff compares the configured records with the enforced state. Filters
// that are not attached are only reported when the file enables them.
func Diff(cfg *config.Config, st State) []Mismatch {
	var out []Mismatch
	add := func(field string, want, got any) {
		w, g := fmt.Sprint(want), fmt.Sprint(got)
		if w != g {
			out = append(out, Mismatch{Field: field, Expected: w, Enforced: g})
		}
	}

	switch {
	case st.Packet.Loaded:
		add("packet.port", cfg.Packet.Port, st.Packet.Port)
	case cfg.Packet.Port != 0:
		add("packet.port", cfg.Packet.Port, "not attached")
	}

	rule, err := cfg.ProcessRule()
	if err != nil {
		return append(out, Mismatch{Field: "socket.process", Expected: err.Error(), Enforced: st.Socket.Process})
	}
	switch {
	case st.Socket.Loaded:
		add("socket.process", fmt.Sprintf("%q", rule.Name()), fmt.Sprintf("%q", st.Socket.Process))
		if rule.Enabled() {
			add("socket.allowed_port", rule.AllowedPort, st.Socket.AllowedPort)
		}
	case rule.Enabled():
		add("socket.process", fmt.Sprintf("%q", rule.Name()), "not attached")
	}
	return out
}

// AuditRules compares cfg, loaded from source, with what is enforced.
func AuditRules(cfg *config.Config, source string) error {
	st, err := ReadState(cfg.PinDir())
	if err != nil {
		return err
	}

	diffs := Diff(cfg, st)
	if len(diffs) == 0 {
		fmt.Println(color.GreenString("Audit passed: enforced configuration matches %s.", source))
		return nil
	}
	fmt.Println(color.RedString("Audit failed: differences found between configuration and enforced state."))
	for _, d := range diffs {
		fmt.Printf("  - %s\n", color.RedString("%s", d))
	}
	return ErrAuditMismatch
}
