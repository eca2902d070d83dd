package codegen

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

// libm resolution is cgo-free: purego.Dlopen/Dlsym hand us raw addresses
// for the transcendental functions this backend's CALL instructions target,
// the same role cranelift's default_libcall_names() plays in the original
// source. The handle is opened once per process and cached; every Builder
// in the process shares it.

var (
	libmOnce   sync.Once
	libmHandle uintptr
	libmErr    error
	symbolMu   sync.Mutex
	symbolsByName = map[string]uintptr{}
)

// libmCandidates lists shared library names to try, in order, for the
// current platform. Darwin resolves libm symbols out of libSystem; glibc
// and musl Linux both expose libm.so.6, with libm.so as a fallback for
// minimal distros that only ship the unversioned development symlink.
func libmCandidates() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"/usr/lib/libSystem.B.dylib"}
	case "linux":
		return []string{"libm.so.6", "libm.so"}
	default:
		return nil
	}
}

func openLibm() (uintptr, error) {
	libmOnce.Do(func() {
		candidates := libmCandidates()
		if len(candidates) == 0 {
			libmErr = fmt.Errorf("%w: no libm candidate known for %s", ErrUnsupportedArch, runtime.GOOS)
			return
		}
		var lastErr error
		for _, name := range candidates {
			h, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
			if err == nil {
				libmHandle = h
				return
			}
			lastErr = err
		}
		libmErr = fmt.Errorf("%w: dlopen libm: %v", ErrCodegenFailure, lastErr)
	})
	return libmHandle, libmErr
}

// libmSymbol resolves the address of a libm entry point by its C symbol
// name (e.g. "sin", "pow"), caching the lookup across calls.
func libmSymbol(name string) (uintptr, error) {
	symbolMu.Lock()
	defer symbolMu.Unlock()

	if addr, ok := symbolsByName[name]; ok {
		return addr, nil
	}

	handle, err := openLibm()
	if err != nil {
		return 0, err
	}

	addr, err := purego.Dlsym(handle, name)
	if err != nil {
		return 0, fmt.Errorf("%w: dlsym %q: %v", ErrCodegenFailure, name, err)
	}
	symbolsByName[name] = addr
	return addr, nil
}
