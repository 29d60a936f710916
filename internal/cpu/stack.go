package cpu

// Mem is the narrow read/write surface the stack helpers need from the
// memory bus, so this package does not import membus directly.
type Mem interface {
	Read16(addr uint32) uint16
	Write16(addr uint32, v uint16)
	Read32(addr uint32) uint32
	Write32(addr uint32, v uint32)
}

// Push16 decrements SP by 2 and writes a word at SS:SP (spec §4.D).
func Push16(s *State, m Mem, v uint16) {
	sp := s.Word(RegSP) - 2
	s.SetWord(RegSP, sp)
	m.Write16((uint32(s.Seg(SegSS))<<4)+uint32(sp), v)
}

// Pop16 reads a word at SS:SP and increments SP by 2.
func Pop16(s *State, m Mem) uint16 {
	sp := s.Word(RegSP)
	v := m.Read16((uint32(s.Seg(SegSS)) << 4) + uint32(sp))
	s.SetWord(RegSP, sp+2)
	return v
}

// Push32 decrements ESP by 4 and writes a dword at SS:ESP.
func Push32(s *State, m Mem, v uint32) {
	sp := s.Dword(RegSP) - 4
	s.SetDword(RegSP, sp)
	m.Write32((uint32(s.Seg(SegSS))<<4)+sp, v)
}

// Pop32 reads a dword at SS:ESP and increments ESP by 4.
func Pop32(s *State, m Mem) uint32 {
	sp := s.Dword(RegSP)
	v := m.Read32((uint32(s.Seg(SegSS)) << 4) + sp)
	s.SetDword(RegSP, sp+4)
	return v
}
