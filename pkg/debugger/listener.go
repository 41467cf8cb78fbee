package debugger

import "github.com/aivorynet/scriptdbg/pkg/breakpoint"

// Listener observes controller notifications. Calls are made synchronously
// on the goroutine that triggered them; BreakpointHit and DebuggerPaused
// always arrive before the execution goroutine blocks for a command.
type Listener interface {
	BreakpointHit(bp breakpoint.Breakpoint)
	DebuggerPaused(loc Location)
	BreakpointUpdated(update breakpoint.Update)
	OutputString(text string)
	DebuggingFinished()
	TerminatingException(err error)
}

// ListenerFuncs adapts optional callbacks to a Listener.
type ListenerFuncs struct {
	OnBreakpointHit        func(bp breakpoint.Breakpoint)
	OnDebuggerPaused       func(loc Location)
	OnBreakpointUpdated    func(update breakpoint.Update)
	OnOutputString         func(text string)
	OnDebuggingFinished    func()
	OnTerminatingException func(err error)
}

func (f ListenerFuncs) BreakpointHit(bp breakpoint.Breakpoint) {
	if f.OnBreakpointHit != nil {
		f.OnBreakpointHit(bp)
	}
}

func (f ListenerFuncs) DebuggerPaused(loc Location) {
	if f.OnDebuggerPaused != nil {
		f.OnDebuggerPaused(loc)
	}
}

func (f ListenerFuncs) BreakpointUpdated(update breakpoint.Update) {
	if f.OnBreakpointUpdated != nil {
		f.OnBreakpointUpdated(update)
	}
}

func (f ListenerFuncs) OutputString(text string) {
	if f.OnOutputString != nil {
		f.OnOutputString(text)
	}
}

func (f ListenerFuncs) DebuggingFinished() {
	if f.OnDebuggingFinished != nil {
		f.OnDebuggingFinished()
	}
}

func (f ListenerFuncs) TerminatingException(err error) {
	if f.OnTerminatingException != nil {
		f.OnTerminatingException(err)
	}
}
