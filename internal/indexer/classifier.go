package indexer

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bhanu1232/RepoRAG/internal/core"
)

// DefaultMaxFileSize is the byte limit beyond which a file is skipped as
// oversize rather than read and classified.
const DefaultMaxFileSize = 1 << 20 // 1 MiB

// sniffWindow is how many leading bytes are checked for UTF-8 validity
// before a file is treated as binary.
const sniffWindow = 8 << 10 // 8 KiB

// languageByExt maps a lowercased file extension (including the leading
// dot) to its language name.
var languageByExt = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".go":    "go",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".rb":    "ruby",
	".php":   "php",
	".md":    "markdown",
	".mdx":   "markdown",
	".rst":   "markdown",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
}

// buildScriptNames are file basenames recognized as build category
// regardless of extension.
var buildScriptNames = map[string]bool{
	"makefile":       true,
	"dockerfile":     true,
	"docker-compose.yml": true,
	"docker-compose.yaml": true,
	"build.gradle":   true,
	"pom.xml":        true,
	"cmakelists.txt": true,
	"rakefile":       true,
	"gemfile":        true,
}

// configExtensions are extensions treated as configuration regardless of
// path keywords.
var configExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
	".toml": true,
	".ini":  true,
	".cfg":  true,
	".env":  true,
}

// configNames are basenames recognized as configuration.
var configNames = map[string]bool{
	".gitignore":     true,
	".editorconfig":  true,
	".env":           true,
	"go.mod":         true,
	"go.sum":         true,
	"package.json":   true,
	"requirements.txt": true,
}

// Classifier derives language, category, and depth for an accepted file.
type Classifier struct{}

// NewClassifier builds a Classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// Classify fills in the language, category, and depth of a FileRecord
// given its relative path (forward-slash separated) and content.
func (c *Classifier) Classify(relPath string, content []byte) core.FileRecord {
	ext := strings.ToLower(filepath.Ext(relPath))
	base := strings.ToLower(filepath.Base(relPath))

	language, ok := languageByExt[ext]
	if !ok {
		language = core.LanguageUnknown
	}

	return core.FileRecord{
		Path:      relPath,
		Language:  language,
		Category:  classifyCategory(relPath, base, ext),
		SizeBytes: int64(len(content)),
		Depth:     depthOf(relPath),
		Bytes:     content,
	}
}

func classifyCategory(relPath, base, ext string) core.Category {
	lower := strings.ToLower(relPath)
	if strings.Contains(lower, "test") || strings.Contains(lower, "spec") {
		return core.CategoryTest
	}
	if buildScriptNames[base] {
		return core.CategoryBuild
	}
	if ext == ".md" || ext == ".mdx" || ext == ".rst" || ext == ".txt" {
		return core.CategoryDocs
	}
	if configExtensions[ext] || configNames[base] {
		return core.CategoryConfig
	}
	if _, ok := languageByExt[ext]; ok {
		return core.CategoryCode
	}
	return core.CategoryOther
}

// depthOf returns the number of path segments before the file's basename.
func depthOf(relPath string) int {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return 0
	}
	return strings.Count(relPath, "/")
}

// looksBinary reports whether the first sniffWindow bytes of content fail
// a UTF-8 validity check, per the walker's binary-detection rule.
func looksBinary(content []byte) bool {
	window := content
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}
	return !utf8.Valid(window)
}

// DefaultDenylist names VCS, dependency, and build-artifact directories
// skipped unconditionally during a walk.
func DefaultDenylist() []string {
	return []string{
		".git/", "node_modules/", "dist/", "build/", "__pycache__/",
		".venv/", "target/", "vendor/", ".svn/", ".hg/", ".idea/", ".DS_Store",
	}
}
