package codegen

// MakeFn1, MakeFn2, MakeFn3, and MakeFnN wrap a finalized function's entry
// point in a Go closure over the matching amd64 trampoline. pkg/jit is the
// intended caller: these exist in this package because only it may touch
// the unexported callNative* functions the trampoline files declare.
func MakeFn1(addr uintptr) func(float64) float64 {
	return func(a0 float64) float64 { return callNative1(addr, a0) }
}

func MakeFn2(addr uintptr) func(float64, float64) float64 {
	return func(a0, a1 float64) float64 { return callNative2(addr, a0, a1) }
}

func MakeFn3(addr uintptr) func(float64, float64, float64) float64 {
	return func(a0, a1, a2 float64) float64 { return callNative3(addr, a0, a1, a2) }
}

func MakeFnN(addr uintptr) func([]float64) float64 {
	return func(vars []float64) float64 {
		var ptr *float64
		if len(vars) > 0 {
			ptr = &vars[0]
		}
		return callNativeN(addr, ptr, len(vars))
	}
}
