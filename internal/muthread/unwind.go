package muthread

import (
	"github.com/mu-vm/muvm/internal/compiler/codegen"
	"github.com/mu-vm/muvm/internal/muerr"
)

// Frame is one native stack frame encountered while unwinding: the
// compiled function it belongs to and the return-address offset within
// that function's code, used to look up both the exception table (for a
// landing pad) and the stack map (for the GC root scan).
type Frame struct {
	Func         *codegen.CompiledFunction
	ReturnOffset int
}

// FindLandingPad searches f's exception table for an entry whose
// instruction range covers f.ReturnOffset, returning the landing pad's
// code offset if found (spec §4.7/§9 "consults per-call-site exception
// tables to find a matching landing pad").
func FindLandingPad(f Frame) (int, bool) {
	for _, e := range f.Func.Exceptions {
		if f.ReturnOffset >= e.StartOffset && f.ReturnOffset < e.EndOffset {
			return e.LandingPadOffset, true
		}
	}
	return 0, false
}

// Unwind walks frames from innermost (frames[0]) outward, returning the
// first (frame, landingPadOffset) pair with a matching landing pad. If no
// frame has one, the exception is uncaught (spec §7 "Cross-thread
// uncaught exception: becomes the thread's exit value").
func Unwind(frames []Frame) (Frame, int, error) {
	for _, f := range frames {
		if off, ok := FindLandingPad(f); ok {
			return f, off, nil
		}
	}
	return Frame{}, 0, muerr.New(muerr.KindUncaughtException, "muthread: exception unwound past every frame")
}

// StackMapAt returns the live-ref slot offsets recorded for f's call
// site, for the GC coordinator's per-thread root scan (spec §4.5 "each Mu
// thread's stack frames (using per-call-site stack maps)").
func StackMapAt(f Frame) []int {
	for _, sm := range f.Func.StackMaps {
		if sm.ReturnOffset == f.ReturnOffset {
			return sm.RefOffsets
		}
	}
	return nil
}
