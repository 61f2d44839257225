package anchor

import "fmt"

// ResolutionError is returned when a program, its IDL, an instruction, an
// account or an argument cannot be resolved from the workspace. It is always
// raised before any network traffic.
type ResolutionError struct {
	Program string
	// What failed to resolve: "program", "idl", "instruction", "account", "arg".
	Kind string
	Name string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("cannot resolve %s %q of program %s: %v", e.Kind, e.Name, e.Program, e.Err)
	}
	return fmt.Sprintf("cannot resolve %s of program %s: %v", e.Kind, e.Program, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
