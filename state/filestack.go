package state

import (
	"fmt"

	"gopper/gparse"
)

// mStartFile implements M32: opens the named file (resolved by State's
// FileOpener) and pushes it onto the file stack, so subsequent lines are
// read from it instead of whatever was active. Replies from commands in
// the pushed file are discarded (the original M32's caller already
// received its "ok" for the line that triggered the nested print).
func (s *State) mStartFile(cmd gparse.Command) gparse.Response {
	name, ok := cmd.SpecialString()
	if !ok || name == "" {
		return gparse.Ok
	}
	if s.opener == nil {
		return gparse.Ok
	}
	f, err := s.opener(name)
	if err != nil {
		return gparse.OkWithSuffix(fmt.Sprintf("Error: %v", err))
	}
	s.fileStack = append(s.fileStack, gcodeSource{com: gparse.NewCom(f, nil), closer: f})
	return gparse.Ok
}

// popFile implements M99 and the EOF-of-a-nested-file case: closes and
// pops the top file-stack entry. Popping the last entry on the stack (the
// root print source) requests a clean exit rather than leaving nothing to
// read from.
func (s *State) popFile() {
	if len(s.fileStack) == 0 {
		s.requestExit(0)
		return
	}
	top := s.fileStack[len(s.fileStack)-1]
	if top.closer != nil {
		top.closer.Close()
	}
	s.fileStack = s.fileStack[:len(s.fileStack)-1]
	if len(s.fileStack) == 0 && s.com == nil {
		s.requestExit(0)
	}
}
