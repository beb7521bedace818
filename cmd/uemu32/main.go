package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zboralski/uemu32/internal/config"
	"github.com/zboralski/uemu32/internal/decoder"
	"github.com/zboralski/uemu32/internal/disasm"
	glog "github.com/zboralski/uemu32/internal/log"
	"github.com/zboralski/uemu32/internal/script"
	"github.com/zboralski/uemu32/internal/ui/debugger"
)

var (
	configPath       string
	breakSpecs       []string
	traceEnable      bool
	dumpStateOnFault bool

	disasmFrom  uint32
	disasmCount int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "uemu32",
		Short: "A userspace emulator for 32-bit x86 (IA-32) Linux ELF binaries",
		Long: `uemu32 emulates ELF32/EM_386 executables instruction-by-instruction: it
maps program headers into an emulated address space, decodes and executes
one IA-32 instruction at a time, and records a call-trace backtrace as
CALL/RET instructions cross function boundaries.

Examples:
  uemu32 run ./a.out                          # run to completion or fault
  uemu32 run ./a.out --break 0x80480a0         # halt at an address
  uemu32 run ./a.out --break 0x80480a0:"regs.eax == 5"
  uemu32 run ./a.out --dump-state-on-fault     # print registers on fault
  uemu32 info ./a.out                          # segments/entry/symbol count
  uemu32 debug ./a.out                         # interactive TUI
  uemu32 disasm ./a.out --from 0x8048000 -n 20 # render instructions`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	runCmd := &cobra.Command{
		Use:   "run <executable>",
		Short: "Load and run an ELF binary to completion or fault",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringArrayVar(&breakSpecs, "break", nil, `breakpoint "addr" or "addr:condition" (repeatable)`)
	runCmd.Flags().BoolVar(&traceEnable, "trace", false, "log every executed instruction")
	runCmd.Flags().BoolVar(&dumpStateOnFault, "dump-state-on-fault", false, "print full CPU state when a fault halts the run")
	rootCmd.AddCommand(runCmd)

	infoCmd := &cobra.Command{
		Use:   "info <executable>",
		Short: "Print segments, entry point, and symbol count",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}
	rootCmd.AddCommand(infoCmd)

	debugCmd := &cobra.Command{
		Use:   "debug <executable>",
		Short: "Launch the interactive debug console",
		Args:  cobra.ExactArgs(1),
		RunE:  runDebug,
	}
	debugCmd.Flags().StringArrayVar(&breakSpecs, "break", nil, `breakpoint "addr" or "addr:condition" (repeatable)`)
	rootCmd.AddCommand(debugCmd)

	disasmCmd := &cobra.Command{
		Use:   "disasm <executable>",
		Short: "Render instructions from an address without executing them",
		Args:  cobra.ExactArgs(1),
		RunE:  runDisasm,
	}
	disasmCmd.Flags().Uint32Var(&disasmFrom, "from", 0, "address to start disassembling at (default: entry point)")
	disasmCmd.Flags().IntVarP(&disasmCount, "count", "n", 20, "number of instructions to render")
	rootCmd.AddCommand(disasmCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// parseBreakpoints turns "addr" or "addr:condition" specs into
// debugger.Breakpoint values. addr may be hex (0x...) or decimal.
func parseBreakpoints(specs []string) ([]debugger.Breakpoint, error) {
	out := make([]debugger.Breakpoint, 0, len(specs))
	for _, spec := range specs {
		addrStr, cond, _ := strings.Cut(spec, ":")
		addr, err := strconv.ParseUint(strings.TrimSpace(addrStr), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid breakpoint address %q: %w", addrStr, err)
		}
		out = append(out, debugger.Breakpoint{Addr: uint32(addr), Condition: strings.TrimSpace(cond)})
	}
	return out, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sess, err := load(args[0], cfg)
	if err != nil {
		return err
	}

	breakpoints, err := parseBreakpoints(breakSpecs)
	if err != nil {
		return err
	}

	logger := glog.NewLevel(cfg.TraceLevel)
	if traceEnable {
		logger = glog.New(true)
	}
	logger = logger.WithCategory("run").WithSession(uuid.New().String())
	engine := script.New()

	for !sess.cpu.Halted {
		if hit, cond := breakpointHit(sess, breakpoints, engine); hit {
			logger.Breakpoint(sess.cpu.EIP(), cond)
			fmt.Printf("breakpoint hit at 0x%08x (%s)\n", sess.cpu.EIP(), cond)
			return nil
		}

		res := sess.cpu.Step()
		if traceEnable {
			logger.Step(res.Instruction.EIPAtDecode, res.Instruction.Name, res.Instruction.BytesConsumed)
		}
		if res.MemFault != nil {
			logger.Fault(sess.cpu.EIP(), res.MemFault.Errno.String(), res.MemFault.Error())
			fmt.Printf("fault: %s\n", res.MemFault.Error())
			if dumpStateOnFault {
				fmt.Println(sess.cpu.String())
			}
			return nil
		}
		if res.Err != nil {
			return fmt.Errorf("run: %w", res.Err)
		}
	}

	fmt.Printf("halted: %s\n", sess.cpu.HaltMsg)
	fmt.Println(sess.cpu.String())
	return nil
}

func breakpointHit(sess *session, breakpoints []debugger.Breakpoint, engine *script.Engine) (bool, string) {
	for _, bp := range breakpoints {
		if bp.Addr != sess.cpu.EIP() {
			continue
		}
		if bp.Condition == "" {
			return true, fmt.Sprintf("0x%08x", bp.Addr)
		}
		snap := regSnapshot(sess)
		ok, err := engine.Eval(bp.Condition, snap)
		if err != nil || !ok {
			continue
		}
		return true, bp.Condition
	}
	return false, ""
}

func regSnapshot(sess *session) script.RegSnapshot {
	c := sess.cpu
	return script.RegSnapshot{
		EAX: c.GPR(decoder.EAX, decoder.W32), ECX: c.GPR(decoder.ECX, decoder.W32),
		EDX: c.GPR(decoder.EDX, decoder.W32), EBX: c.GPR(decoder.EBX, decoder.W32),
		ESP: c.ESP(), EBP: c.GPR(decoder.EBP, decoder.W32),
		ESI: c.GPR(decoder.ESI, decoder.W32), EDI: c.GPR(decoder.EDI, decoder.W32),
		EIP: c.EIP(),
		CF:  c.Flag(decoder.FlagCF), PF: c.Flag(decoder.FlagPF), AF: c.Flag(decoder.FlagAF),
		ZF: c.Flag(decoder.FlagZF), SF: c.Flag(decoder.FlagSF), TF: c.Flag(decoder.FlagTF),
		IF: c.Flag(decoder.FlagIF), DF: c.Flag(decoder.FlagDF), OF: c.Flag(decoder.FlagOF),
	}
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sess, err := load(args[0], cfg)
	if err != nil {
		return err
	}

	fmt.Printf("binary:  %s\n", args[0])
	fmt.Printf("entry:   0x%08x\n", sess.view.Entry)
	fmt.Printf("symbols: %d\n", len(sess.view.Symbols))
	fmt.Printf("segments:\n")
	for _, seg := range sess.mem.Segments() {
		fmt.Printf("  0x%08x-0x%08x %s\n", seg.Start, seg.Limit, seg.Type)
	}
	return nil
}

func runDebug(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sess, err := load(args[0], cfg)
	if err != nil {
		return err
	}
	breakpoints, err := parseBreakpoints(breakSpecs)
	if err != nil {
		return err
	}
	return debugger.Run(sess.cpu, sess.resolver, breakpoints)
}

func runDisasm(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sess, err := load(args[0], cfg)
	if err != nil {
		return err
	}

	addr := disasmFrom
	if addr == 0 {
		addr = sess.view.Entry
	}

	for i := 0; i < disasmCount; i++ {
		ins := decoder.Decode(sess.mem, addr)
		if ins.FetchFailed {
			fmt.Printf("0x%08x  (bad)\n", addr)
			break
		}
		line := disasm.Render(ins, sess.resolver)
		fmt.Printf("0x%08x  %s\n", addr, disasm.Highlight(line))
		addr += ins.BytesConsumed
	}
	return nil
}
