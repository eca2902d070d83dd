//go:build !(amd64 && (linux || darwin))

package codegen

// On any platform the amd64 encoder does not target, supported() already
// fails NewSession before a Module is ever finalized: these bodies only
// exist so the package still links. Reaching them is a programming error,
// not a reachable user-facing failure mode.

func callNative1(addr uintptr, a0 float64) float64 {
	panic("codegen: callNative1 invoked on an unsupported platform")
}

func callNative2(addr uintptr, a0, a1 float64) float64 {
	panic("codegen: callNative2 invoked on an unsupported platform")
}

func callNative3(addr uintptr, a0, a1, a2 float64) float64 {
	panic("codegen: callNative3 invoked on an unsupported platform")
}

func callNativeN(addr uintptr, vars *float64, n int) float64 {
	panic("codegen: callNativeN invoked on an unsupported platform")
}
