package network

import (
	"math/bits"
	"strconv"
	"strings"
)

// SlotMask is a bitmap of slot positions.
type SlotMask struct {
	words []uint64
}

// MaskOf builds a mask with the given slots set.
func MaskOf(slots ...int) SlotMask {
	var m SlotMask
	for _, s := range slots {
		m.Set(s)
	}
	return m
}

// Set marks slot s. Negative slots are ignored.
func (m *SlotMask) Set(s int) {
	if s < 0 {
		return
	}
	w := s / 64
	for len(m.words) <= w {
		m.words = append(m.words, 0)
	}
	m.words[w] |= 1 << uint(s%64)
}

// Has reports whether slot s is marked.
func (m SlotMask) Has(s int) bool {
	w := s / 64
	return s >= 0 && w < len(m.words) && m.words[w]&(1<<uint(s%64)) != 0
}

// Union adds every slot of o to m.
func (m *SlotMask) Union(o SlotMask) {
	for len(m.words) < len(o.words) {
		m.words = append(m.words, 0)
	}
	for i, w := range o.words {
		m.words[i] |= w
	}
}

// Intersects reports whether m and o share a slot.
func (m SlotMask) Intersects(o SlotMask) bool {
	n := min(len(m.words), len(o.words))
	for i := 0; i < n; i++ {
		if m.words[i]&o.words[i] != 0 {
			return true
		}
	}
	return false
}

// Empty reports whether no slot is marked.
func (m SlotMask) Empty() bool {
	for _, w := range m.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of marked slots.
func (m SlotMask) Count() int {
	n := 0
	for _, w := range m.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Key returns a canonical string for interning.
func (m SlotMask) Key() string {
	var b strings.Builder
	last := len(m.words)
	for last > 0 && m.words[last-1] == 0 {
		last--
	}
	for i := 0; i < last; i++ {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(strconv.FormatUint(m.words[i], 16))
	}
	return b.String()
}

// SharedMask is an interned, reference-counted mask handle. Many pattern
// nodes carry the same reactivity bitmap; they share one handle.
type SharedMask struct {
	Mask SlotMask
	key  string
	refs int
}

// Refs returns the number of holders.
func (s *SharedMask) Refs() int { return s.refs }

// MaskPool interns SharedMasks by content.
type MaskPool struct {
	masks map[string]*SharedMask
}

// NewMaskPool creates an empty pool.
func NewMaskPool() *MaskPool {
	return &MaskPool{masks: make(map[string]*SharedMask)}
}

// Acquire returns the shared handle for m, adding one reference.
func (p *MaskPool) Acquire(m SlotMask) *SharedMask {
	k := m.Key()
	s, ok := p.masks[k]
	if !ok {
		s = &SharedMask{Mask: m, key: k}
		p.masks[k] = s
	}
	s.refs++
	return s
}

// Release drops one reference, discarding the mask when none remain.
func (p *MaskPool) Release(s *SharedMask) {
	if s == nil {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(p.masks, s.key)
	}
}

// Len returns the number of distinct live masks.
func (p *MaskPool) Len() int { return len(p.masks) }
