package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"vela/jit"
	"vela/vm"
)

func main() {
	var debug bool
	var noJIT bool

	rootCmd := &cobra.Command{
		Use:   "vela",
		Short: "vela is a register-based scripting VM with a tracing JIT",
	}

	runCmd := &cobra.Command{
		Use:   "run <file> [file...]",
		Short: "Compile and execute one or more source files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runFiles(args, debug, noJIT); err != nil {
				os.Exit(1)
			}
			return nil
		},
	}
	runCmd.Flags().BoolVar(&debug, "debug", false, "enter single-step debug mode")
	runCmd.Flags().BoolVar(&noJIT, "no-jit", false, "disable tracing JIT compilation")

	parseCmd := &cobra.Command{
		Use:   "parse <file> [file...]",
		Short: "Check that source files compile, without executing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parseFiles(args); err != nil {
				os.Exit(1)
			}
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, parseCmd)

	// RunE above never returns a non-nil error - a vela-level failure is
	// already reported (via printError) and exits directly - so any error
	// Execute returns here is cobra's own (bad flags, wrong arg count),
	// which cobra already prints itself along with usage.
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFiles(paths []string, debug, noJIT bool) error {
	v := vm.New()
	if !noJIT {
		v.RegisterJIT(jit.New(v))
	}
	if debug {
		attachDebugger(v)
	}
	for _, path := range paths {
		if err := v.RunFile(path); err != nil {
			printError(err)
			return err
		}
	}
	return nil
}

func parseFiles(paths []string) error {
	v := vm.New()
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			printError(err)
			return err
		}
		pkgID := v.NewPackage(path)
		if err := v.Parse(pkgID, path, src); err != nil {
			printError(err)
			return err
		}
		fmt.Printf("%s: ok\n", path)
	}
	return nil
}

// attachDebugger installs a step hook that reproduces the teacher's
// execProgramDebugMode REPL (next/run/break) as a blocking callback the
// interpreter invokes once per instruction, rather than as a standalone
// instruction-fetch loop the host drives itself.
func attachDebugger(v *vm.VM) {
	reader := bufio.NewReader(os.Stdin)
	waitForInput := true
	breakpoints := make(map[int]struct{})

	fmt.Print("Commands:\n\tn or next: execute next instruction\n\tr or run: run until breakpoint\n\tb or break <ip>: toggle a breakpoint at an instruction offset\n\n")

	v.SetStepHook(func(fn uint32, ip, base int) {
		_, atBreakpoint := breakpoints[ip]
		for waitForInput || atBreakpoint {
			if atBreakpoint {
				fmt.Printf("breakpoint: fn=%d ip=%d\n", fn, ip)
			}
			fmt.Printf("[fn=%d ip=%d]-> ", fn, ip)
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.ToLower(strings.TrimSpace(line))

			switch {
			case line == "n" || line == "next" || line == "":
				waitForInput = true
				return
			case line == "r" || line == "run":
				waitForInput = false
				return
			case strings.HasPrefix(line, "b"):
				arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "break"), "b"))
				offset, err := strconv.Atoi(arg)
				if err != nil {
					fmt.Println("usage: b <instruction offset>")
					continue
				}
				if _, ok := breakpoints[offset]; ok {
					delete(breakpoints, offset)
					fmt.Printf("cleared breakpoint at %d\n", offset)
				} else {
					breakpoints[offset] = struct{}{}
					fmt.Printf("set breakpoint at %d\n", offset)
				}
			default:
				fmt.Println("unknown command")
			}
			_, atBreakpoint = breakpoints[ip]
		}
	})
}

// printError pretty-prints a VM error to stderr, coloring the whole message
// red when stderr is an interactive terminal and leaving it plain
// otherwise - a file redirect or CI log should never contain raw escapes.
func printError(err error) {
	msg := err.Error()
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		fmt.Fprintln(os.Stderr, msg)
		return
	}
	const red = "\x1b[31m"
	const reset = "\x1b[0m"
	fmt.Fprintln(os.Stderr, red+msg+reset)
}
