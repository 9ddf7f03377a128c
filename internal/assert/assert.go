// Package assert implements unrecoverable-error reporting for
// configuration errors and invariant violations (spec.md §7): a panic
// carrying file/function/line plus a per-goroutine scoped stack of
// "markers", mirroring the original's thread-local StackTrace intrusive
// list (original_source/src/libatom/asserts.hpp).
package assert

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
)

// Violation is raised by Check/Fail for conditions the system considers
// unrecoverable: malformed config, a corrupted basin, an out-of-bounds
// sphere mapping, a negative activation barrier, etc.
type Violation struct {
	Expr  string
	Msg   string
	File  string
	Line  int
	Func  string
	Stack []Marker
}

func (v *Violation) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d: %s: assertion failed", v.File, v.Line, v.Func)
	if v.Expr != "" {
		fmt.Fprintf(&b, " (%s)", v.Expr)
	}
	if v.Msg != "" {
		fmt.Fprintf(&b, ": %s", v.Msg)
	}
	if len(v.Stack) > 0 {
		b.WriteString("\nstack:\n")
		for i := len(v.Stack) - 1; i >= 0; i-- {
			m := v.Stack[i]
			fmt.Fprintf(&b, "  %s (%s:%d)\n", m.Func, m.File, m.Line)
		}
	}
	return b.String()
}

// Marker records one active scope on the logical call stack, pushed by
// Enter and popped by the returned func(). Goroutine-local: each
// goroutine gets its own stack via a thread-local-equivalent map keyed
// on goroutine identity is avoided (Go has no public goroutine id), so
// instead each long-running worker goroutine carries its own *Scope
// explicitly (see Scope below) rather than relying on ambient global
// state — this is the design note in spec.md §9 ("avoid process-wide
// singletons") applied to stack markers as well as to RNG state.
type Marker struct {
	File string
	Func string
	Line int
}

// Scope is an explicit, goroutine-owned stack of markers. A goroutine
// that wants its call history in a Violation owns one Scope and raises
// through CheckScope; Check and Fail attach no Scope.
type Scope struct {
	mu      sync.Mutex
	markers []Marker
}

func NewScope() *Scope { return &Scope{} }

// Enter pushes a marker and returns a function that pops it; call via
// defer scope.Enter("name")().
func (s *Scope) Enter(name string) func() {
	_, file, line, _ := runtime.Caller(1)
	s.mu.Lock()
	s.markers = append(s.markers, Marker{File: file, Func: name, Line: line})
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		if n := len(s.markers); n > 0 {
			s.markers = s.markers[:n-1]
		}
		s.mu.Unlock()
	}
}

func (s *Scope) snapshot() []Marker {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Marker, len(s.markers))
	copy(out, s.markers)
	return out
}

// Check panics with a *Violation if cond is false. Use for invariant
// violations and configuration errors (spec.md §7, unrecoverable tier).
func Check(cond bool, format string, args ...any) {
	check(nil, cond, format, args...)
}

// CheckScope is Check with an explicit goroutine Scope attached to the
// resulting Violation's stack trace.
func CheckScope(scope *Scope, cond bool, format string, args ...any) {
	check(scope, cond, format, args...)
}

// check is the shared body of Check, CheckScope and Fail; it must be
// called directly by one of them so that the reported file, line and
// function are those of their caller.
func check(scope *Scope, cond bool, format string, args ...any) {
	if cond {
		return
	}
	pc, file, line, _ := runtime.Caller(2)
	fn := runtime.FuncForPC(pc)
	name := "unknown"
	if fn != nil {
		name = fn.Name()
	}
	panic(&Violation{
		Msg:   fmt.Sprintf(format, args...),
		File:  file,
		Line:  line,
		Func:  name,
		Stack: scope.snapshot(),
	})
}

// Fail unconditionally raises a Violation; used for branches that
// should be unreachable (e.g. Basin.kmc_choice walking off the end of
// its cumulative-sum scan, spec.md §9 Open Question).
func Fail(format string, args ...any) {
	check(nil, false, format, args...)
}

// Recover converts a panicked *Violation into an error for the
// top-level CLI to print and exit non-zero on; panics of any other
// type are re-panicked since they indicate a genuine programming bug
// outside the assertion taxonomy.
func Recover() error {
	r := recover()
	if r == nil {
		return nil
	}
	if v, ok := r.(*Violation); ok {
		return v
	}
	panic(r)
}
