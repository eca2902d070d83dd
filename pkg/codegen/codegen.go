// Package codegen is the JIT session: it owns an executable memory arena,
// declares a single function body, and exposes a Builder that a pkg/lower
// visitor drives to emit x86-64 SSE2 machine code for it. There is no
// external code-generation library in the retrieved example pack that
// targets float64 JIT compilation (see DESIGN.md): this package plays the
// role cranelift-jit/cranelift-codegen play in the original source, hand
// rolled for the one instruction set this library targets.
//
// Shape is fixed to amd64 on Linux/Darwin; NewSession fails fast on any
// other target rather than silently degrading.
package codegen

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrUnsupportedArch is returned when NewSession is called on a host whose
// architecture or operating system this backend does not encode for.
var ErrUnsupportedArch = errors.New("codegen: unsupported architecture or OS")

// ErrCodegenFailure wraps unexpected failures surfaced from the lowering or
// finalization process that indicate a bug in this library rather than a
// user input error: a damaged libm symbol table, a failed mmap, and so on.
var ErrCodegenFailure = errors.New("codegen: internal codegen failure")

// Shape identifies the calling convention a Session's function body uses.
type Shape int

const (
	// Shape1D is a single float64 argument, passed in XMM0.
	Shape1D Shape = 1
	// Shape2D is two float64 arguments, passed in XMM0 and XMM1.
	Shape2D Shape = 2
	// Shape3D is three float64 arguments, passed in XMM0, XMM1, and XMM2.
	Shape3D Shape = 3
	// ShapeND is a *float64 argument, passed in RDI. The slice length is
	// not passed to the compiled body.
	ShapeND Shape = 0
)

// supported reports whether this host can run the emitted machine code.
func supported() bool {
	if runtime.GOARCH != "amd64" {
		return false
	}
	return runtime.GOOS == "linux" || runtime.GOOS == "darwin"
}

// Session mediates between a pkg/lower visitor and the native code
// generator. It is not safe for concurrent use: a single session must be
// confined to one goroutine from NewSession through Finalize.
type Session struct {
	shape   Shape
	builder *Builder
	done    bool
}

// NewSession configures a session targeting the current host for the given
// Shape. The session's Builder must be used to emit exactly one function
// body before Finalize is called.
func NewSession(shape Shape) (*Session, error) {
	if !supported() {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedArch, runtime.GOOS, runtime.GOARCH)
	}
	return &Session{shape: shape, builder: newBuilder(shape)}, nil
}

// Builder returns the IR builder bound to this session's function. Calling
// it more than once is a programming error: the returned Builder already
// models the session's entire function body.
func (s *Session) Builder() *Builder {
	return s.builder
}

// Module owns the executable memory backing every Fn produced from the
// session it was finalized from. It must be kept alive for as long as the
// function pointer is reachable; dropping it is the only legal teardown,
// and it invalidates every function pointer handed out from it.
type Module struct {
	code []byte // mmap'd, PROT_READ|PROT_EXEC
}

// Close unmaps the executable arena. Calling any function pointer obtained
// from this module after Close is undefined behavior.
func (m *Module) Close() error {
	if m.code == nil {
		return nil
	}
	err := unix.Munmap(m.code)
	m.code = nil
	return err
}

// Finalize assembles the builder's emitted body into a standalone function
// (prologue, parameter spill, epilogue), commits it to executable memory,
// and returns the module plus the address of the function's entry point.
// The session is consumed: calling Finalize twice is a programming error.
func (s *Session) Finalize() (*Module, uintptr, error) {
	if s.done {
		panic("codegen: Finalize called twice on the same Session")
	}
	s.done = true

	code, err := s.builder.assemble()
	if err != nil {
		return nil, 0, err
	}

	mem, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: mmap: %v", ErrCodegenFailure, err)
	}
	copy(mem, code)

	// W^X: the arena is writable-or-executable, never both at once.
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, 0, fmt.Errorf("%w: mprotect: %v", ErrCodegenFailure, err)
	}

	module := &Module{code: mem}
	return module, uintptr(unsafe.Pointer(&mem[0])), nil
}
