package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portguard/filter"
	"portguard/filter/filtertest"
)

func TestPortValue(t *testing.T) {
	var p portValue
	require.NoError(t, p.Set("8080"))
	assert.Equal(t, "8080", p.String())
	require.NoError(t, p.Set("any"))
	assert.EqualValues(t, 0, p)
	assert.Error(t, p.Set("65536"))
	assert.Equal(t, "port", p.Type())
}

func newSettingsCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "x"}
	c.Flags().StringP("config", "c", "", "")
	c.Flags().String("bpffs", "", "")
	require.NoError(t, c.ParseFlags(args))
	return c
}

func TestSettings(t *testing.T) {
	cfg, err := settings(newSettingsCmd(t))
	require.NoError(t, err)
	assert.Equal(t, "lo", cfg.Packet.Interface)

	path := filepath.Join(t.TempDir(), "portguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("packet:\n  port: 8080\n"), 0o600))
	cfg, err = settings(newSettingsCmd(t, "--config", path, "--bpffs", "/run/bpf"))
	require.NoError(t, err)
	assert.EqualValues(t, 8080, cfg.Packet.Port)
	assert.Equal(t, "/run/bpf/portguard", cfg.PinDir())

	_, err = settings(newSettingsCmd(t, "--bpffs", "relative"))
	assert.Error(t, err)
}

func writeCapture(t *testing.T, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for _, frame := range frames {
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(0, 0), CaptureLength: len(frame), Length: len(frame)}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return path
}

func TestOpenCapture(t *testing.T) {
	path := writeCapture(t,
		filtertest.TCPFrame(t, 40000, 8080),
		filtertest.TCPFrame(t, 40000, 443),
		filtertest.UDPFrame(t, 40000, 8080),
	)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	src, err := openCapture(f)
	require.NoError(t, err)

	var cell filter.PortCell
	cell.Store(filter.PortRule{Port: 8080})
	hook := filter.PacketHook{Rules: &cell}

	var reasons []filter.Reason
	for {
		data, _, err := src.ReadPacketData()
		if err != nil {
			break
		}
		reasons = append(reasons, hook.Decide(data).Reason)
	}
	assert.Equal(t, []filter.Reason{filter.ReasonPortMatch, filter.ReasonNoMatch, filter.ReasonNotApplicable}, reasons)
}

func TestOpenCaptureRejectsOtherLinkTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeRaw))
	require.NoError(t, f.Close())

	f, err = os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = openCapture(f)
	assert.ErrorContains(t, err, "link type")
}

func TestOpenCaptureGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(path, []byte("not a capture file"), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = openCapture(f)
	assert.Error(t, err)
}
