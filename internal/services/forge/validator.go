// -----------------------------------------------------------------------
// Input Validator - submission rules checked before any execution
// -----------------------------------------------------------------------

package forge

import (
	"strings"

	"github.com/chainwright/forge/internal/common"
	"github.com/chainwright/forge/internal/models"
)

// Validator enforces file-count, size, path-safety and chain-allowlist rules
// on a job submission. It is a pure function of its input; limits come from
// configuration so tests can substitute smaller ones.
type Validator struct {
	limits *common.ForgeConfig
	chains *common.ChainsConfig
}

// NewValidator creates a validator bound to the configured limits.
func NewValidator(limits *common.ForgeConfig, chains *common.ChainsConfig) *Validator {
	return &Validator{
		limits: limits,
		chains: chains,
	}
}

// Validate checks each rule independently and reports the first violation.
func (v *Validator) Validate(sub *models.JobSubmission) error {
	if len(sub.Files) > v.limits.MaxFiles {
		return newValidationError(CodeTooManyFiles,
			"submission has %d files, maximum is %d", len(sub.Files), v.limits.MaxFiles)
	}

	var total int64
	for _, f := range sub.Files {
		size := int64(len(f.Content))
		if size > v.limits.MaxFileSize {
			return newValidationError(CodeFileTooLarge,
				"file %s is %d bytes, maximum is %d", f.Path, size, v.limits.MaxFileSize)
		}
		total += size
	}
	if total > v.limits.MaxTotalSize {
		return newValidationError(CodeTotalSizeExceeded,
			"submission is %d bytes, maximum is %d", total, v.limits.MaxTotalSize)
	}

	for _, f := range sub.Files {
		if !safePath(f.Path) {
			return newValidationError(CodeInvalidPath, "unsafe file path: %s", f.Path)
		}
	}

	if sub.ForkConfig != nil {
		if _, ok := v.chains.EndpointFor(sub.ForkConfig.ChainID); !ok {
			return newValidationError(CodeUnsupportedChain,
				"chain %d is not supported for fork mode", sub.ForkConfig.ChainID)
		}
	}

	return nil
}

// safePath rejects absolute paths and any parent-directory segment, closing
// off directory traversal out of the sandbox execution root.
func safePath(p string) bool {
	if p == "" {
		return false
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "\\") {
		return false
	}
	// Windows-style drive prefix
	if len(p) > 1 && p[1] == ':' {
		return false
	}
	for _, segment := range strings.FieldsFunc(p, func(r rune) bool {
		return r == '/' || r == '\\'
	}) {
		if segment == ".." {
			return false
		}
	}
	return true
}
