// Package script evaluates user-supplied JavaScript breakpoint conditions
// against a snapshot of CPU registers and flags, per §4.12. It is the only
// place goja appears in this module: the main execution loop never runs
// guest-supplied code through it, only the host's own --break conditions.
package script

import (
	"fmt"

	"github.com/dop251/goja"
)

// RegSnapshot is the read-only register/flag view exposed to a breakpoint
// condition as the JS object "regs" — a plain numbers-and-booleans object,
// never a live binding back to the CPU.
type RegSnapshot struct {
	EAX, ECX, EDX, EBX uint32
	ESP, EBP, ESI, EDI uint32
	EIP                uint32

	CF, PF, AF, ZF, SF, TF, IF, DF, OF bool
}

// Engine wraps a goja.Runtime so every Eval call gets a fresh "regs" binding
// without paying to spin up a new JS VM per breakpoint hit.
type Engine struct {
	vm *goja.Runtime
}

// New constructs an Engine with its own JS runtime.
func New() *Engine {
	return &Engine{vm: goja.New()}
}

// Eval evaluates cond as a boolean expression with "regs" bound to a
// snapshot object (regs.eax, regs.zf, ...). A malformed expression or a
// non-boolean result is reported as an error; the run loop treats any
// error as "condition false" per §7, so a bad --break condition can never
// crash the emulated run.
func (e *Engine) Eval(cond string, regs RegSnapshot) (bool, error) {
	if err := e.vm.Set("regs", regsObject(regs)); err != nil {
		return false, fmt.Errorf("script: bind regs: %w", err)
	}

	v, err := e.vm.RunString(cond)
	if err != nil {
		return false, fmt.Errorf("script: eval %q: %w", cond, err)
	}

	b, ok := v.Export().(bool)
	if !ok {
		return false, fmt.Errorf("script: condition %q did not evaluate to a boolean (got %T)", cond, v.Export())
	}
	return b, nil
}

func regsObject(r RegSnapshot) map[string]interface{} {
	return map[string]interface{}{
		"eax": r.EAX, "ecx": r.ECX, "edx": r.EDX, "ebx": r.EBX,
		"esp": r.ESP, "ebp": r.EBP, "esi": r.ESI, "edi": r.EDI,
		"eip": r.EIP,
		"cf":  r.CF, "pf": r.PF, "af": r.AF, "zf": r.ZF, "sf": r.SF,
		"tf": r.TF, "if": r.IF, "df": r.DF, "of": r.OF,
	}
}
