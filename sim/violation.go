package sim

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// ViolationKind classifies a fatal kernel failure.
type ViolationKind string

const (
	ViolationDoubleFree        ViolationKind = "double-free"
	ViolationUseAfterFree      ViolationKind = "use-after-free"
	ViolationOwnership         ViolationKind = "ownership"
	ViolationHeaderDepth       ViolationKind = "header-depth"
	ViolationHeaderMismatch    ViolationKind = "header-mismatch"
	ViolationCausality         ViolationKind = "causality"
	ViolationHorizonRegression ViolationKind = "horizon-regression"
	ViolationExhausted         ViolationKind = "resource-exhausted"
	ViolationInvalidArgument   ViolationKind = "invalid-argument"
)

// ContractViolation is the panic payload for every fatal kernel failure.
// Site names the caller of the kernel API that detected the violation.
type ContractViolation struct {
	Kind    ViolationKind
	Message string
	Site    string
}

func (v *ContractViolation) Error() string {
	return fmt.Sprintf("%s: %s (at %s)", v.Kind, v.Message, v.Site)
}

// violate panics with a ContractViolation attributed to the first caller
// outside the kernel.
func violate(kind ViolationKind, format string, args ...any) {
	panic(&ContractViolation{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Site:    callSite(),
	})
}

// Violate lets sibling packages (sim/cluster) raise kernel-style fatal errors.
func Violate(kind ViolationKind, format string, args ...any) {
	violate(kind, format, args...)
}

var kernelDir = func() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Dir(file)
}()

func callSite() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		inKernel := filepath.Dir(f.File) == kernelDir && !strings.HasSuffix(f.File, "_test.go")
		if !inKernel && f.File != "" {
			return fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
		if !more {
			return "unknown"
		}
	}
}
