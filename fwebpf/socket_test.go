package fwebpf

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cilium/ebpf/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"portguard/filter"
)

const cgroupRoot = "/sys/fs/cgroup"

// currentCgroup returns the cgroup2 directory of this process.
func currentCgroup(t *testing.T) string {
	t.Helper()
	f, err := os.Open("/proc/self/cgroup")
	require.NoError(t, err)
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		if rel, ok := strings.CutPrefix(s.Text(), "0::"); ok {
			return filepath.Join(cgroupRoot, rel)
		}
	}
	t.Skip("process is not in a cgroup2 hierarchy")
	return ""
}

func moveTo(t *testing.T, cgroup string) {
	t.Helper()
	pid := strconv.Itoa(os.Getpid())
	require.NoError(t, os.WriteFile(filepath.Join(cgroup, "cgroup.procs"), []byte(pid), 0o644))
}

// testCgroup creates a child cgroup, moves the test process into it and
// moves it back when the test ends.
func testCgroup(t *testing.T) string {
	t.Helper()
	var st unix.Statfs_t
	if err := unix.Statfs(cgroupRoot, &st); err != nil || st.Type != unix.CGROUP2_SUPER_MAGIC {
		t.Skip("cgroup2 is not mounted at " + cgroupRoot)
	}

	orig := currentCgroup(t)
	dir := filepath.Join(cgroupRoot, fmt.Sprintf("portguard-test-%d", os.Getpid()))
	require.NoError(t, os.Mkdir(dir, 0o755))
	t.Cleanup(func() {
		moveTo(t, orig)
		os.Remove(dir)
	})
	moveTo(t, dir)
	return dir
}

func isEPERM(err error) bool { return errors.Is(err, unix.EPERM) }

func TestSocketFilterInCgroup(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("attaching cgroup programs requires root")
	}
	cgroup := testCgroup(t)

	coll, err := loadCollectionUnpinned(unpinned(SocketCollectionSpec()))
	require.NoError(t, err)
	defer coll.Close()

	for _, p := range sockAddrPrograms {
		l, err := link.AttachCgroup(link.CgroupOptions{
			Path:    cgroup,
			Attach:  p.attach,
			Program: coll.Programs[p.name],
		})
		require.NoError(t, err, p.name)
		defer l.Close()
	}

	comm, err := os.ReadFile("/proc/self/comm")
	require.NoError(t, err)
	rule, err := filter.NewProcessPortRule(strings.TrimSpace(string(comm)), 443)
	require.NoError(t, err)
	procs := &ProcessMap{m: coll.Maps[ProcessConfigMap]}
	require.NoError(t, procs.Store(rule))

	dial := func(addr string) error {
		c, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			c.Close()
		}
		return err
	}
	listen := func(addr string) error {
		l, err := net.Listen("tcp", addr)
		if err == nil {
			l.Close()
		}
		return err
	}

	assert.True(t, isEPERM(dial("127.0.0.1:80")), "connect to a port other than the allowed one")
	assert.False(t, isEPERM(dial("127.0.0.1:443")), "connect to the allowed port")
	assert.True(t, isEPERM(dial("[::1]:80")), "connect6 to a port other than the allowed one")

	assert.NoError(t, listen("127.0.0.1:0"), "bind to an ephemeral port")
	assert.True(t, isEPERM(listen("127.0.0.1:9999")), "bind to a port other than the allowed one")
	// 443 with its bytes swapped must not match.
	assert.True(t, isEPERM(listen("127.0.0.1:47873")), "bind to the byte-swapped allowed port")

	// Disabling the rule lets everything through.
	require.NoError(t, procs.Store(filter.ProcessPortRule{}))
	assert.NoError(t, listen("127.0.0.1:9999"))
}
