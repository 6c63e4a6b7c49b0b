package permission

import "math/bits"

// Mask64 is a fixed-width permission bitset. Bit i is set when Permission(i) is granted.
type Mask64 uint64

// Has reports whether p is present in the mask. Out-of-range permissions are never present.
func (m Mask64) Has(p Permission) bool {
	if !p.Valid() {
		return false
	}
	return m&(1<<uint(p)) != 0
}

// With returns a copy of m with p set.
func (m Mask64) With(p Permission) Mask64 {
	if !p.Valid() {
		return m
	}
	return m | (1 << uint(p))
}

// Without returns a copy of m with p cleared.
func (m Mask64) Without(p Permission) Mask64 {
	if !p.Valid() {
		return m
	}
	return m &^ (1 << uint(p))
}

// Union merges two masks.
func (m Mask64) Union(o Mask64) Mask64 {
	return m | o
}

// Contains reports whether every bit of o is also set in m.
func (m Mask64) Contains(o Mask64) bool {
	return m&o == o
}

// Len returns the number of permissions in the mask.
func (m Mask64) Len() int {
	return bits.OnesCount64(uint64(m))
}

// Permissions lists the permissions in the mask in declaration order.
func (m Mask64) Permissions() []Permission {
	out := make([]Permission, 0, m.Len())
	for p := Permission(0); p < permissionCount; p++ {
		if m.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Raw exposes the underlying bits.
func (m Mask64) Raw() uint64 {
	return uint64(m)
}
