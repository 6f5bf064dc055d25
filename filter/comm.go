package filter

// CommEqual compares a task's short name against the configured name, both
// NUL-terminated within MaxNameLen bytes. The first mismatching byte makes
// them unequal; a shared terminator, or MaxNameLen identical bytes, makes
// them equal. Bytes after the terminator are never examined.
func CommEqual(comm, name *[MaxNameLen]byte) bool {
	for i := 0; i < MaxNameLen; i++ {
		if comm[i] != name[i] {
			return false
		}
		if comm[i] == 0 {
			return true
		}
	}
	return true
}

// Comm builds a name buffer from s, truncating it the way the kernel
// truncates task names.
func Comm(s string) [MaxNameLen]byte {
	var c [MaxNameLen]byte
	if len(s) > MaxNameLen-1 {
		s = s[:MaxNameLen-1]
	}
	copy(c[:], s)
	return c
}

func commString(c *[MaxNameLen]byte) string {
	for i, b := range c {
		if b == 0 {
			return string(c[:i])
		}
	}
	return string(c[:])
}
