// Package workspace tracks what the model knows about files on disk.
// A read-stamp table records the state of every file the model has
// read or written, and an fsnotify watcher flags files that changed
// underneath it.
package workspace

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnorePatterns are skipped even without a .gitignore.
var DefaultIgnorePatterns = []string{
	".git",
	"node_modules",
	"dist",
	"build",
	"vendor",
	"__pycache__",
	"coverage",
	".next",
	".cache",
	"target",
	".idea",
	".vscode",
	".DS_Store",
}

// LoadMatcher compiles the default patterns plus the root .gitignore,
// when one exists, into a single matcher.
func LoadMatcher(root string) gitignore.IgnoreParser {
	patterns := make([]string, 0, len(DefaultIgnorePatterns)+16)
	patterns = append(patterns, DefaultIgnorePatterns...)
	patterns = append(patterns, gitignoreLines(filepath.Join(root, ".gitignore"))...)
	return gitignore.CompileIgnoreLines(patterns...)
}

// gitignoreLines reads the patterns from one .gitignore file, dropping
// blanks and comments. A missing file yields no patterns.
func gitignoreLines(path string) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
