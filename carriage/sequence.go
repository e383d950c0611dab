package carriage

import (
	"fmt"
	"strings"
)

// Symbol is one entry of a homing trigger order.
type Symbol uint8

const (
	// SymbolLeft marks a stop point hit while probing left.
	SymbolLeft Symbol = iota + 1
	// SymbolRight marks a stop point hit while probing right.
	SymbolRight
	// SymbolBoundary marks the end of a probing stage.
	SymbolBoundary
)

func (s Symbol) String() string {
	switch s {
	case SymbolLeft:
		return "L"
	case SymbolRight:
		return "R"
	case SymbolBoundary:
		return "N"
	}
	return "?"
}

const sequenceCap = 16

// Sequence is a fixed-capacity trigger order. Two sequences are equal (==)
// exactly when they hold the same symbols in the same order.
type Sequence struct {
	syms     [sequenceCap]Symbol
	n        int
	overflow bool
}

// Append adds sym. Symbols past capacity are dropped and the sequence is
// marked as overflowed so it can never match a table entry.
func (s *Sequence) Append(sym Symbol) {
	if s.n == sequenceCap {
		s.overflow = true
		return
	}
	s.syms[s.n] = sym
	s.n++
}

func (s *Sequence) Reset() {
	*s = Sequence{}
}

func (s Sequence) Len() int {
	return s.n
}

func (s Sequence) String() string {
	var b strings.Builder
	for _, sym := range s.syms[:s.n] {
		b.WriteString(sym.String())
	}
	if s.overflow {
		b.WriteString("...")
	}
	return b.String()
}

// ParseSequence reads the L/R/N notation used in logs and the position table.
func ParseSequence(text string) (Sequence, error) {
	var s Sequence
	for _, r := range text {
		switch r {
		case 'L':
			s.Append(SymbolLeft)
		case 'R':
			s.Append(SymbolRight)
		case 'N':
			s.Append(SymbolBoundary)
		default:
			return Sequence{}, fmt.Errorf("invalid trigger symbol %q in %q", r, text)
		}
	}
	if s.overflow {
		return Sequence{}, fmt.Errorf("trigger order %q longer than %d symbols", text, sequenceCap)
	}
	return s, nil
}

func mustSequence(text string) Sequence {
	s, err := ParseSequence(text)
	if err != nil {
		panic(err)
	}
	return s
}

type homedEntry struct {
	order Sequence
	// start names the zone the run began in: XA is left of outlet A, ABA is
	// between A and B nearer A, and so on.
	start string
	end   Position
}

// homedTable maps every known trigger order to where the carriage sits
// once the run finishes. A, B and C are outlets 1, 2 and 3.
var homedTable = [...]homedEntry{
	{mustSequence("RNNRNRL"), "XA", Workbench},
	{mustSequence("NNRNRL"), "AA", Workbench},
	{mustSequence("LNNRNRL"), "ABA", Workbench},
	{mustSequence("RNNLRNRL"), "ABB", ChopSaw},
	{mustSequence("LRNNLRNRL"), "ABB", ChopSaw},
	{mustSequence("NNLRNRL"), "BB", ChopSaw},
	{mustSequence("LNNLRNRL"), "BB", ChopSaw},
	{mustSequence("RNNLRNL"), "BCC", CNC},
	{mustSequence("LRNNLRNL"), "BCC", CNC},
	{mustSequence("NNLRNL"), "CC", CNC},
	{mustSequence("LNNLRNL"), "CC", CNC},
}

func lookupHomed(order Sequence) (homedEntry, bool) {
	for _, e := range homedTable {
		if e.order == order {
			return e, true
		}
	}
	return homedEntry{}, false
}
