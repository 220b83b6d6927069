package gparse

import (
	"bufio"
	"io"
)

// Com manages the low-level line-at-a-time interface between the host and
// the command interpreter. Reads are buffered line-by-line; each TendCom
// call blocks until a full line or the end of the source arrives.
type Com struct {
	r       *bufio.Reader
	w       io.Writer
	pending Command
	atEOF   bool
}

// NewCom wraps a line source and an optional reply sink. w may be nil if
// replies should be discarded (e.g. while replaying a nested G-code file
// whose root stream already received its "ok").
func NewCom(r io.Reader, w io.Writer) *Com {
	return &Com{r: bufio.NewReader(r), w: w}
}

// TendCom reads and parses one line, blocking until a newline or the end
// of the source arrives; it does not return early on a half-received line.
// It returns true once a Command is ready via Command(), and io.EOF once
// the source is exhausted.
func (c *Com) TendCom() (bool, error) {
	line, err := c.r.ReadString('\n')
	if len(line) > 0 {
		if line[len(line)-1] == '\n' {
			line = line[:len(line)-1]
		}
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		c.pending = ParseLine(line)
		return true, nil
	}
	if err != nil {
		c.atEOF = true
		return false, err
	}
	return false, nil
}

// Command returns the most recently parsed Command.
func (c *Com) Command() Command { return c.pending }

// AtEOF reports whether the underlying source has been exhausted.
func (c *Com) AtEOF() bool { return c.atEOF }

// Reply writes a Response to the host, if a write sink is configured and
// the response is not Null.
func (c *Com) Reply(resp Response) error {
	if c.w == nil || resp.IsNull() {
		return nil
	}
	_, err := io.WriteString(c.w, resp.String())
	return err
}
