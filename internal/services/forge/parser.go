// -----------------------------------------------------------------------
// Output Parser - raw tool output to normalized result
// -----------------------------------------------------------------------

package forge

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/chainwright/forge/internal/models"
)

// diagnosticLine matches human-readable "Error:" / "Warning:" diagnostics,
// including the numbered compiler form "Error (2314):".
var diagnosticLine = regexp.MustCompile(`(?i)^\s*(error|warning)(?:\s*\(\d+\))?\s*:\s*(.+)$`)

// ParseOutput converts raw combined output into a structured result. It
// prefers a JSON object embedded in the output; when none parses, it falls
// back to line-oriented extraction. Warnings are always text-extracted in
// addition to any structured parse, since tools emit human-readable warnings
// alongside structured errors. Extracted errors force Success false even if
// the process exit signal claimed success.
func ParseOutput(kind models.JobKind, raw string) *models.ForgeResult {
	result := &models.ForgeResult{Success: true}

	if payload := extractJSONObject(raw); payload != nil {
		switch kind {
		case models.JobKindCompile:
			parseCompileJSON(payload, result)
		default:
			parseTestJSON(payload, result)
		}
	} else {
		parseTextErrors(raw, result)
	}

	// Warnings ride the text channel regardless of the structured parse.
	parseTextWarnings(raw, result)

	if len(result.Errors) > 0 {
		result.Success = false
	}
	return result
}

// extractJSONObject locates the first parseable JSON object embedded in the
// output. Tool output commonly surrounds the object with free text, so each
// balanced candidate is tried until one unmarshals. Malformed JSON never
// fails the parse; it only degrades to the text fallback.
func extractJSONObject(raw string) json.RawMessage {
	for start := 0; start < len(raw); {
		open := strings.IndexByte(raw[start:], '{')
		if open < 0 {
			return nil
		}
		open += start

		if candidate := balancedObject(raw[open:]); candidate != "" {
			var probe map[string]json.RawMessage
			if err := json.Unmarshal([]byte(candidate), &probe); err == nil {
				return json.RawMessage(candidate)
			}
		}
		start = open + 1
	}
	return nil
}

// balancedObject returns the shortest brace-balanced prefix of s, respecting
// JSON string literals, or "" when s never balances.
func balancedObject(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// compileJSON mirrors the build tool's machine-readable output: a diagnostic
// list plus the compiled contract map.
type compileJSON struct {
	Errors []struct {
		Severity       string `json:"severity"`
		Message        string `json:"message"`
		SourceLocation *struct {
			File   string `json:"file"`
			Line   int    `json:"line"`
			Column int    `json:"column"`
		} `json:"sourceLocation"`
	} `json:"errors"`
	Contracts map[string]map[string]json.RawMessage `json:"contracts"`
}

func parseCompileJSON(payload json.RawMessage, result *models.ForgeResult) {
	var parsed compileJSON
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return
	}

	for _, diag := range parsed.Errors {
		if !strings.EqualFold(diag.Severity, "error") {
			if diag.Message != "" {
				result.Warnings = append(result.Warnings, diag.Message)
			}
			continue
		}
		ce := models.CompileError{
			Message:  diag.Message,
			Category: models.CategoryCompiler,
		}
		if diag.SourceLocation != nil {
			ce.File = diag.SourceLocation.File
			ce.Line = diag.SourceLocation.Line
			ce.Column = diag.SourceLocation.Column
		}
		result.Errors = append(result.Errors, ce)
	}

	for file, contracts := range parsed.Contracts {
		for name := range contracts {
			result.Artifacts = append(result.Artifacts, models.Artifact{
				Name: name,
				File: file,
			})
		}
	}
}

// testJSON mirrors the test tool's machine-readable output: suites keyed by
// source file, each holding per-test outcomes.
type testJSON map[string]struct {
	TestResults map[string]struct {
		Status      string   `json:"status"`
		Reason      string   `json:"reason"`
		GasUsed     uint64   `json:"gas_used"`
		DecodedLogs []string `json:"decoded_logs"`
	} `json:"test_results"`
}

func parseTestJSON(payload json.RawMessage, result *models.ForgeResult) {
	var parsed testJSON
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return
	}

	var report models.GasReport
	for _, suite := range parsed {
		for name, tc := range suite.TestResults {
			tr := models.TestResult{
				Name:    name,
				Passed:  strings.EqualFold(tc.Status, "success"),
				Reason:  tc.Reason,
				GasUsed: tc.GasUsed,
				Logs:    tc.DecodedLogs,
			}
			result.TestResults = append(result.TestResults, tr)

			report.TotalGas += tc.GasUsed
			if tc.GasUsed > report.MaxGas {
				report.MaxGas = tc.GasUsed
			}
		}
	}

	if n := len(result.TestResults); n > 0 {
		report.AverageGas = report.TotalGas / uint64(n)
		result.GasReport = &report
	}
}

func parseTextErrors(raw string, result *models.ForgeResult) {
	for _, line := range strings.Split(raw, "\n") {
		m := diagnosticLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.EqualFold(m[1], "error") {
			result.Errors = append(result.Errors, models.CompileError{
				Message:  strings.TrimSpace(m[2]),
				Category: models.CategoryCompiler,
			})
		}
	}
}

func parseTextWarnings(raw string, result *models.ForgeResult) {
	for _, line := range strings.Split(raw, "\n") {
		m := diagnosticLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.EqualFold(m[1], "warning") {
			result.Warnings = append(result.Warnings, strings.TrimSpace(m[2]))
		}
	}
}
