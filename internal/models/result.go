// -----------------------------------------------------------------------
// Forge Result - normalized outcome of a sandboxed tool invocation
// -----------------------------------------------------------------------

package models

// Error categories distinguish "the user's code is broken" from "the
// execution backend is broken" for operator triage.
const (
	CategoryCompiler    = "compiler"
	CategoryRuntime     = "runtime"
	CategoryTimeout     = "timeout"
	CategorySandbox     = "sandbox"
	CategoryInterrupted = "interrupted"
)

// CompileError is one structured compiler diagnostic.
type CompileError struct {
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Category string `json:"category,omitempty"`
}

// TestResult is the outcome of a single test case.
type TestResult struct {
	Name    string   `json:"name"`
	Passed  bool     `json:"passed"`
	Reason  string   `json:"reason,omitempty"`
	GasUsed uint64   `json:"gas_used,omitempty"`
	Logs    []string `json:"logs,omitempty"`
}

// Artifact is one compiled contract artifact.
type Artifact struct {
	Name     string `json:"name"`
	File     string `json:"file,omitempty"`
	Bytecode string `json:"bytecode,omitempty"`
	ABI      string `json:"abi,omitempty"`
}

// GasReport aggregates resource usage across a test run.
type GasReport struct {
	TotalGas   uint64 `json:"total_gas,omitempty"`
	AverageGas uint64 `json:"average_gas,omitempty"`
	MaxGas     uint64 `json:"max_gas,omitempty"`
}

// ForgeResult is present only on terminal jobs. Success reflects the parsed
// outcome, not the raw process exit signal: any extracted error forces it
// false.
type ForgeResult struct {
	Success     bool           `json:"success"`
	Errors      []CompileError `json:"errors,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
	Artifacts   []Artifact     `json:"artifacts,omitempty"`
	TestResults []TestResult   `json:"test_results,omitempty"`
	GasReport   *GasReport     `json:"gas_report,omitempty"`
}

// SyntheticFailure builds a result carrying exactly one engine-generated
// error, used for timeouts, sandbox faults and crash reclassification.
func SyntheticFailure(category, message string) *ForgeResult {
	return &ForgeResult{
		Success: false,
		Errors: []CompileError{{
			Message:  message,
			Category: category,
		}},
	}
}

// TestsPassed reports whether every recorded test case passed.
func (r *ForgeResult) TestsPassed() bool {
	for _, t := range r.TestResults {
		if !t.Passed {
			return false
		}
	}
	return true
}
