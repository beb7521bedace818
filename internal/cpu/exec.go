package cpu

import (
	"fmt"

	"github.com/zboralski/uemu32/internal/decoder"
	"github.com/zboralski/uemu32/internal/mmu"
)

// StepResult reports what happened during one Step call, so a caller (the
// debug console, the run loop, a test) can decide whether to continue.
type StepResult struct {
	Instruction decoder.Instruction
	MemFault    *mmu.Error // non-nil if the MMU raised a sticky fault
	Err         error      // non-nil on a decode/handler-reported failure (§7)
}

// Stopped reports whether execution should not continue past this step.
func (r StepResult) Stopped() bool {
	return r.MemFault != nil || r.Err != nil
}

// Step implements §4.7's main-loop body for a single instruction:
// clear the MMU's sticky error, decode, bail on a failed fetch, advance EIP
// before invoking the handler (so relative branches/calls compute against
// the address of the *next* instruction), invoke the handler, then check
// the MMU error one more time before recording the new EIP with the
// call-trace recorder.
func (c *CPU) Step() StepResult {
	c.mem.ClearError()

	ins := decoder.Decode(c.mem, c.eip)
	if ins.FetchFailed {
		return StepResult{Instruction: ins, Err: fmt.Errorf("fetch failed at eip=%#08x (byte %#02x)", c.eip, ins.FailByte)}
	}
	if ins.Handler == nil {
		return StepResult{Instruction: ins, Err: fmt.Errorf("unreachable: no handler for %#08x (opcode byte %#02x)", c.eip, ins.ExecData.Primary)}
	}

	c.SetEIP(c.eip + ins.BytesConsumed)

	if err := ins.Handler(c, ins.ExecData); err != nil {
		return StepResult{Instruction: ins, Err: err}
	}

	if c.mem.Err() != nil {
		return StepResult{Instruction: ins, MemFault: c.mem.Err()}
	}

	if c.recorder != nil {
		c.recorder.CurrentEIPSet(c.eip)
	}
	return StepResult{Instruction: ins}
}

// Run steps the CPU until it halts, a step reports an error or fault, or
// maxSteps is exhausted (0 means unbounded). It returns the final step's
// result so the caller can distinguish a clean HLT from a fault.
func (c *CPU) Run(maxSteps int) StepResult {
	var last StepResult
	for i := 0; maxSteps == 0 || i < maxSteps; i++ {
		last = c.Step()
		if c.Halted || last.Stopped() {
			return last
		}
	}
	return last
}

// FindCallTarget resolves the destination a CALL instruction would
// transfer to, per §4.8, without mutating CPU state — the disassembler and
// debugger UI use this to annotate "call -> symbol" without single-stepping.
func FindCallTarget(c *CPU, ins decoder.Instruction) (uint32, error) {
	ed := ins.ExecData
	switch ed.Primary {
	case 0xE8:
		return ins.EIPAtDecode + ins.BytesConsumed + ed.Imm1, nil
	case 0xFF:
		switch ed.Extension {
		case 2:
			v, ok := readRM(c, ed, decoder.W32)
			if !ok {
				return 0, fmt.Errorf("call target: memory fault computing rm32 operand")
			}
			return v, nil
		case 3:
			v, _, ok := readFarPtr(c, ed)
			if !ok {
				return 0, fmt.Errorf("call target: memory fault computing far pointer operand")
			}
			return v, nil
		default:
			return 0, fmt.Errorf("not a call instruction: FF /%d", ed.Extension)
		}
	case 0x9A:
		return ed.Imm1, nil
	default:
		return 0, fmt.Errorf("not a call instruction: opcode %#02x", ed.Primary)
	}
}
