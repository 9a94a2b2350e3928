package forge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chainwright/forge/internal/models"
)

func TestHashFilesOrderIndependent(t *testing.T) {
	a := []models.SourceFile{
		{Path: "src/Token.sol", Content: "contract Token {}"},
		{Path: "test/Token.t.sol", Content: "contract TokenTest {}"},
		{Path: "foundry.toml", Content: "[profile.default]"},
	}
	b := []models.SourceFile{
		{Path: "test/Token.t.sol", Content: "contract TokenTest {}"},
		{Path: "foundry.toml", Content: "[profile.default]"},
		{Path: "src/Token.sol", Content: "contract Token {}"},
	}

	assert.Equal(t, HashFiles(a), HashFiles(b), "submission order must not change the digest")
}

func TestHashFilesContentSensitive(t *testing.T) {
	base := []models.SourceFile{
		{Path: "src/Token.sol", Content: "contract Token {}"},
	}

	tests := []struct {
		name  string
		files []models.SourceFile
	}{
		{
			name: "changed content",
			files: []models.SourceFile{
				{Path: "src/Token.sol", Content: "contract Token { uint x; }"},
			},
		},
		{
			name: "changed path",
			files: []models.SourceFile{
				{Path: "src/Coin.sol", Content: "contract Token {}"},
			},
		},
		{
			name: "extra file",
			files: []models.SourceFile{
				{Path: "src/Token.sol", Content: "contract Token {}"},
				{Path: "src/Extra.sol", Content: ""},
			},
		},
	}

	baseHash := HashFiles(base)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, baseHash, HashFiles(tt.files))
		})
	}
}

func TestHashFilesPathContentBoundary(t *testing.T) {
	// The separator prevents (path, content) ambiguity: "ab"+"c" must not
	// collide with "a"+"bc".
	a := []models.SourceFile{{Path: "ab", Content: "c"}}
	b := []models.SourceFile{{Path: "a", Content: "bc"}}

	assert.NotEqual(t, HashFiles(a), HashFiles(b))
}

func TestHashFilesDeterministic(t *testing.T) {
	files := []models.SourceFile{
		{Path: "src/A.sol", Content: "contract A {}"},
	}
	assert.Equal(t, HashFiles(files), HashFiles(files))
	assert.Len(t, HashFiles(files), 64)
}
