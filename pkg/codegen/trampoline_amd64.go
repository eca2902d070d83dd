//go:build amd64 && (linux || darwin)

package codegen

// These four functions have no Go body: trampoline_amd64.s implements them
// directly in Plan9 assembly under Go's legacy ABI0, where arguments and
// results travel through fixed frame-pointer offsets rather than registers.
// The Go compiler generates the ABIInternal<->ABI0 wrapper automatically,
// the same mechanism the standard library relies on for its own
// architecture-specific assembly leaf functions: no cgo involved.

// callNative1 invokes a compiled Shape1D function at addr with argument a0,
// matching the SysV convention the codegen package emits for it: the single
// float64 argument and the float64 result both travel in XMM0.
func callNative1(addr uintptr, a0 float64) float64

// callNative2 invokes a compiled Shape2D function; arguments travel in
// XMM0 and XMM1.
func callNative2(addr uintptr, a0, a1 float64) float64

// callNative3 invokes a compiled Shape3D function; arguments travel in
// XMM0, XMM1, and XMM2.
func callNative3(addr uintptr, a0, a1, a2 float64) float64

// callNativeN invokes a compiled ShapeND function, passing the base
// address of vars in RDI the way the codegen package's prologue expects.
// n is accepted for symmetry with eval's batch API but is never read here
//: the compiled body trusts the caller's slice to be long enough, per
// LoadVar's documented contract.
func callNativeN(addr uintptr, vars *float64, n int) float64
