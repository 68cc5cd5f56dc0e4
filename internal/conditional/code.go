package conditional

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// StatementEnv is what a Conditional statement can call. The daemon fills the
// functions in for each evaluation; compile checks only need the shape.
//
//	Measurement("<condition id>") > 25 && OutputState("<condition id>") == "off"
type StatementEnv struct {
	// Measurement returns the latest value, or NaN when missing or stale
	Measurement func(conditionID string) float64
	// GPIOState returns 1 or 0, or -1 when the pin cannot be read
	GPIOState func(conditionID string) int
	// OutputState returns the last commanded state ("on", "off" or "")
	OutputState func(conditionID string) string
}

// CodeStore keeps one compiled-statement artifact per Conditional
type CodeStore struct {
	dir string
}

func NewCodeStore(dir string) *CodeStore {
	return &CodeStore{dir: dir}
}

// Path returns the artifact location of a Conditional
func (s *CodeStore) Path(id string) string {
	return filepath.Join(s.dir, "conditional_"+id+".expr")
}

// Compile checks a statement without writing anything
func (s *CodeStore) Compile(statement string) (*vm.Program, error) {
	if statement == "" {
		return nil, invalid("Statement must be set")
	}
	program, err := expr.Compile(statement, expr.Env(StatementEnv{}), expr.AsBool())
	if err != nil {
		return nil, invalid("Statement error: %v", err)
	}
	return program, nil
}

// Save compiles the statement and writes it to the Conditional's artifact
func (s *CodeStore) Save(id, statement string) error {
	if _, err := s.Compile(statement); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create code dir: %w", err)
	}
	if err := os.WriteFile(s.Path(id), []byte(statement), 0o644); err != nil {
		return fmt.Errorf("write conditional code: %w", err)
	}
	return nil
}

// Load reads and compiles the artifact of a Conditional
func (s *CodeStore) Load(id string) (*vm.Program, error) {
	b, err := os.ReadFile(s.Path(id))
	if err != nil {
		return nil, fmt.Errorf("read conditional code: %w", err)
	}
	return s.Compile(string(b))
}

// Remove deletes the artifact. A missing file is not an error.
func (s *CodeStore) Remove(id string) error {
	err := os.Remove(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Evaluate runs a compiled statement against env
func Evaluate(program *vm.Program, env StatementEnv) (bool, error) {
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("statement returned %T, want bool", out)
	}
	return result, nil
}
