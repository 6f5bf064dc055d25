package rules

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v2"
)

// PrintRules prints the enforced configuration under pinDir, and the XDP
// attachment state of iface when it is not empty.
func PrintRules(pinDir, iface string) error {
	st, err := ReadState(pinDir)
	if err != nil {
		return err
	}
	if len(st.Attachments) == 0 {
		info("No filter attached under %s\n", pinDir)
	} else {
		info("Attachments:\n")
		for _, a := range st.Attachments {
			fmt.Printf("  %s\n", a)
		}
	}

	if iface != "" {
		attached, id, err := XDPStatus(iface)
		if err != nil {
			return err
		}
		if attached {
			info("XDP program %d attached to %s\n", id, iface)
		} else {
			info("No XDP program attached to %s\n", iface)
		}
	}

	info("\nPacket filter:\n")
	switch {
	case !st.Packet.Loaded:
		fmt.Println("  not attached")
	case st.Packet.Port == 0:
		fmt.Println("  disabled")
	default:
		fmt.Printf("  drop TCP port %d\n", st.Packet.Port)
	}

	info("\nSocket filter:\n")
	switch {
	case !st.Socket.Loaded:
		fmt.Println("  not attached")
	case st.Socket.Process == "":
		fmt.Println("  disabled")
	default:
		fmt.Printf("  process %q may only use port %d\n", st.Socket.Process, st.Socket.AllowedPort)
	}
	return nil
}

// WriteYAML renders st as YAML.
func WriteYAML(w io.Writer, st State) error {
	out, err := yaml.Marshal(&st)
	if err != nil {
		return fmt.Errorf("error marshaling to YAML: %w", err)
	}
	_, err = w.Write(out)
	return err
}
