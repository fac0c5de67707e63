package vm

import "os"

// NewVM matches §6's vm_new entry point and is a thin wrapper over New.
// NewPackage, the vm_new_pkg entry point, is defined in function.go.
func NewVM() *VM { return New() }

// RunString parses src as pkgID's top-level compilation unit and, if parsing
// succeeds, executes the resulting main function to completion. This is
// §6's run_string(VM, pkg_id, source) entry point. path is attached to any
// error produced and may be empty for a source string with no backing file
// (e.g. a REPL line).
func (vm *VM) RunString(pkgID uint32, path, src string) error {
	if err := vm.Parse(pkgID, path, []byte(src)); err != nil {
		return err
	}
	return vm.runMain(pkgID)
}

// RunFile reads path from disk, compiles it into a freshly created package,
// and executes it. This is §6's run_file(VM, path) entry point; the spec
// treats file reading as an external collaborator's job in general, but
// run_file's own contract is to accept a path directly, so this package
// does the read itself rather than pushing it back onto the caller.
func (vm *VM) RunFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return wrapError(ErrRuntime, err, "could not read %s", path)
	}
	pkgID := vm.NewPackage(path)
	return vm.RunString(pkgID, path, string(src))
}

// runMain executes pkgID's main function and discards its result: a
// top-level compilation unit's implicit trailing RET value has no observer.
func (vm *VM) runMain(pkgID uint32) error {
	pkg := &vm.Packages[pkgID]
	if pkg.MainFunc == noMainFunc {
		return newError(ErrRuntime, 0, "package %d has no compiled main function", pkgID)
	}
	_, err := vm.Exec(pkg.MainFunc, 0)
	return err
}
