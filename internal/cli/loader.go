package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/chainer/internal/compiler"
)

// LoadResult contains a compiled program and what was found on the way.
type LoadResult struct {
	Program   *compiler.Program
	FileCount int
	// Errors holds compile and validation errors. Program is unusable
	// when it is non-empty.
	Errors []error
}

// LoadError represents a problem with the program directory itself.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadProgram compiles every .cue file of dir as one program. A *LoadError
// is returned when there is nothing to compile; compile errors are
// collected in the result.
func LoadProgram(dir string, mode compiler.LoadMode) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("program directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing program directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	prog, errs := compiler.LoadDir(dir, mode)
	return &LoadResult{Program: prog, FileCount: len(files), Errors: errs}, nil
}

// FindCUEFiles returns the .cue files directly inside dir, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Diagnostic is one compile or validation problem, flattened for output.
type Diagnostic struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

func (d Diagnostic) String() string {
	loc := d.Field
	if d.Line > 0 {
		loc = fmt.Sprintf("%s (line %d)", d.Field, d.Line)
	}
	if loc == "" {
		return fmt.Sprintf("[%s] %s", d.Code, d.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", d.Code, loc, d.Message)
}

// diagnose converts compiler errors into diagnostics.
func diagnose(errs []error) []Diagnostic {
	out := make([]Diagnostic, 0, len(errs))
	for _, err := range errs {
		var (
			cerr *compiler.CompileError
			verr compiler.ValidationError
		)
		switch {
		case errors.As(err, &cerr):
			d := Diagnostic{Code: ErrCodeCompile, Field: cerr.Field, Message: cerr.Message}
			if cerr.Pos.IsValid() {
				d.Line = cerr.Pos.Line()
			}
			out = append(out, d)
		case errors.As(err, &verr):
			out = append(out, Diagnostic{Code: verr.Code, Field: verr.Field, Message: verr.Message})
		default:
			out = append(out, Diagnostic{Code: ErrCodeGeneric, Message: err.Error()})
		}
	}
	return out
}
