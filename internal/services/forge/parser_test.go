package forge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwright/forge/internal/models"
)

func TestParseOutputTextErrors(t *testing.T) {
	raw := `Compiling 3 files
Error: Undeclared identifier "balance"
Warning: Unused local variable
Error (2314): Expected ';' but got '}'
done
`
	result := ParseOutput(models.JobKindCompile, raw)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, `Undeclared identifier "balance"`, result.Errors[0].Message)
	assert.Equal(t, "Expected ';' but got '}'", result.Errors[1].Message)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "Unused local variable", result.Warnings[0])
}

func TestParseOutputCleanText(t *testing.T) {
	result := ParseOutput(models.JobKindCompile, "Compiler run successful\n")

	assert.True(t, result.Success)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestParseOutputCompileJSON(t *testing.T) {
	raw := `Compiling...
{"errors":[{"severity":"error","message":"Undeclared identifier","sourceLocation":{"file":"src/Token.sol","line":12,"column":5}},{"severity":"warning","message":"Unused variable"}],"contracts":{"src/Token.sol":{"Token":{}}}}
`
	result := ParseOutput(models.JobKindCompile, raw)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "Undeclared identifier", result.Errors[0].Message)
	assert.Equal(t, "src/Token.sol", result.Errors[0].File)
	assert.Equal(t, 12, result.Errors[0].Line)
	assert.Equal(t, 5, result.Errors[0].Column)
	assert.Equal(t, models.CategoryCompiler, result.Errors[0].Category)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "Unused variable", result.Warnings[0])

	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "Token", result.Artifacts[0].Name)
}

func TestParseOutputTestJSON(t *testing.T) {
	raw := `{"test/Token.t.sol:TokenTest":{"test_results":{"testTransfer()":{"status":"Success","gas_used":42000,"decoded_logs":["Transfer ok"]},"testBurn()":{"status":"Failure","reason":"assertion failed","gas_used":18000}}}}`

	result := ParseOutput(models.JobKindTest, raw)

	assert.True(t, result.Success, "parse-level success; test failures are reported per case")
	assert.False(t, result.TestsPassed())
	require.Len(t, result.TestResults, 2)

	byName := map[string]models.TestResult{}
	for _, tr := range result.TestResults {
		byName[tr.Name] = tr
	}
	assert.True(t, byName["testTransfer()"].Passed)
	assert.Equal(t, uint64(42000), byName["testTransfer()"].GasUsed)
	assert.False(t, byName["testBurn()"].Passed)
	assert.Equal(t, "assertion failed", byName["testBurn()"].Reason)

	require.NotNil(t, result.GasReport)
	assert.Equal(t, uint64(60000), result.GasReport.TotalGas)
	assert.Equal(t, uint64(42000), result.GasReport.MaxGas)
	assert.Equal(t, uint64(30000), result.GasReport.AverageGas)
}

func TestParseOutputMalformedJSONFallsBack(t *testing.T) {
	raw := `{"errors": [unterminated
Error: compilation halted
`
	result := ParseOutput(models.JobKindCompile, raw)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "compilation halted", result.Errors[0].Message)
}

func TestParseOutputJSONSurroundedByText(t *testing.T) {
	raw := `some preamble { not json } more text
{"test/A.t.sol:ATest":{"test_results":{"testOk()":{"status":"Success","gas_used":100}}}}
trailer`

	result := ParseOutput(models.JobKindTest, raw)

	require.Len(t, result.TestResults, 1)
	assert.True(t, result.TestResults[0].Passed)
}

func TestParseOutputWarningsRideAlongsideJSON(t *testing.T) {
	raw := `Warning: Source file does not specify required compiler version
{"errors":[],"contracts":{}}
`
	result := ParseOutput(models.JobKindCompile, raw)

	assert.True(t, result.Success)
	require.Len(t, result.Warnings, 1)
}

func TestBalancedObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", `{"a":1} trailing`, `{"a":1}`},
		{"nested", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"brace in string", `{"a":"}"}`, `{"a":"}"}`},
		{"escaped quote", `{"a":"\"}"}`, `{"a":"\"}"}`},
		{"never balances", `{"a":1`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, balancedObject(tt.in))
		})
	}
}
