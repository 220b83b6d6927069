package gparse

import (
	"math"
	"strings"
	"testing"
)

func TestParseLineBasic(t *testing.T) {
	c := ParseLine("G1 X30 Y-10 Z15")
	if c.Opcode() != "G1" {
		t.Fatalf("Opcode() = %q, want G1", c.Opcode())
	}
	if got := c.GetParam('X', math.NaN()); got != 30 {
		t.Errorf("X = %v, want 30", got)
	}
	if got := c.GetParam('Y', math.NaN()); got != -10 {
		t.Errorf("Y = %v, want -10", got)
	}
	if got := c.GetParam('Z', math.NaN()); got != 15 {
		t.Errorf("Z = %v, want 15", got)
	}
	if c.HasParam('E') {
		t.Errorf("HasParam('E') = true, want false")
	}
}

func TestParseLineCaseInsensitive(t *testing.T) {
	c := ParseLine("g1 x5")
	if c.Opcode() != "G1" {
		t.Fatalf("Opcode() = %q, want G1", c.Opcode())
	}
	if !c.HasParam('x') || c.GetParam('x', 0) != 5 {
		t.Errorf("lowercase param lookup failed")
	}
}

func TestParseLineComment(t *testing.T) {
	c := ParseLine("; just a comment")
	if !c.Empty() {
		t.Errorf("comment-only line should parse as Empty")
	}
	c2 := ParseLine("G1 X1 ; move a bit")
	if c2.Opcode() != "G1" || c2.GetParam('X', 0) != 1 {
		t.Errorf("trailing comment not stripped correctly: %+v", c2)
	}
}

func TestParseLineEmpty(t *testing.T) {
	if !ParseLine("").Empty() {
		t.Errorf("empty line should be Empty")
	}
	if !ParseLine("N10").Empty() {
		t.Errorf("bare line number should be Empty")
	}
}

func TestParseLineChecksumAndLineNumber(t *testing.T) {
	c := ParseLine("N10 G1 X1*37")
	if c.Opcode() != "G1" {
		t.Fatalf("Opcode() = %q, want G1", c.Opcode())
	}
	if c.GetParam('X', 0) != 1 {
		t.Errorf("X = %v, want 1", c.GetParam('X', 0))
	}
}

func TestParseLineSpecialString(t *testing.T) {
	c := ParseLine("M117 Hello World")
	s, ok := c.SpecialString()
	if !ok || s != "Hello World" {
		t.Errorf("SpecialString() = %q, %v, want %q, true", s, ok, "Hello World")
	}

	c2 := ParseLine("M32 /sd/print.gco")
	s2, ok2 := c2.SpecialString()
	if !ok2 || s2 != "/sd/print.gco" {
		t.Errorf("SpecialString() = %q, %v, want file path", s2, ok2)
	}
}

func TestComTendComAndReply(t *testing.T) {
	r := strings.NewReader("G28\nG1 X1\n")
	var out strings.Builder
	com := NewCom(r, &out)

	ok, err := com.TendCom()
	if !ok || err != nil {
		t.Fatalf("TendCom() = %v, %v", ok, err)
	}
	if com.Command().Opcode() != "G28" {
		t.Fatalf("Command().Opcode() = %q", com.Command().Opcode())
	}
	if err := com.Reply(Ok); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if out.String() != "ok\n" {
		t.Errorf("output = %q, want %q", out.String(), "ok\n")
	}
}
