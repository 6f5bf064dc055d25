package filter_test

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portguard/filter"
)

func TestNewProcessPortRule(t *testing.T) {
	r, err := filter.NewProcessPortRule("curl", 443)
	require.NoError(t, err)
	assert.Equal(t, "curl", r.Name())
	assert.True(t, r.Enabled())
	assert.Equal(t, uint16(443), r.AllowedPort)

	_, err = filter.NewProcessPortRule("abcdefghijklmnop", 1)
	assert.Error(t, err, "16-byte names leave no room for the terminator")

	_, err = filter.NewProcessPortRule("cu\x00rl", 1)
	assert.Error(t, err)

	r, err = filter.NewProcessPortRule("", 443)
	require.NoError(t, err)
	assert.False(t, r.Enabled())
}

func TestProcessPortRuleRecordLayout(t *testing.T) {
	r, err := filter.NewProcessPortRule("curl", 0x01bb)
	require.NoError(t, err)

	b, err := r.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, filter.ProcessPortRuleSize)
	assert.Equal(t, []byte("curl"), b[:4])
	assert.Equal(t, make([]byte, 12), b[4:16])
	assert.Equal(t, uint16(0x01bb), binary.NativeEndian.Uint16(b[16:]))

	var back filter.ProcessPortRule
	require.NoError(t, back.UnmarshalBinary(b))
	assert.Equal(t, r, back)

	assert.Error(t, back.UnmarshalBinary(b[:17]))
}

func TestPortRuleRecordLayout(t *testing.T) {
	b, err := filter.PortRule{Port: 8080}.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, uint32(8080), binary.NativeEndian.Uint32(b))

	// The high half of the u32 is ignored.
	binary.NativeEndian.PutUint32(b, 0x00011f90)
	var r filter.PortRule
	require.NoError(t, r.UnmarshalBinary(b))
	assert.Equal(t, uint16(0x1f90), r.Port)

	assert.Error(t, r.UnmarshalBinary([]byte{1, 2}))
}

func TestCellsStartEmpty(t *testing.T) {
	var pc filter.PortCell
	_, ok := pc.Load()
	assert.False(t, ok)

	var prc filter.ProcessCell
	_, ok = prc.Load()
	assert.False(t, ok)
}

func TestProcessCellConcurrentReaders(t *testing.T) {
	a, _ := filter.NewProcessPortRule("curl", 443)
	b, _ := filter.NewProcessPortRule("wget-long-name", 8443)

	var cell filter.ProcessCell
	cell.Store(a)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				r, ok := cell.Load()
				if !ok || (r != a && r != b) {
					t.Errorf("torn read: %+v", r)
					return
				}
			}
		}()
	}
	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			cell.Store(b)
		} else {
			cell.Store(a)
		}
	}
	close(stop)
	wg.Wait()
}
