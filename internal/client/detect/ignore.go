package detect

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

const ignoreFileName = "hcsignore"

var defaultIgnoreLines = []string{
	ignoreFileName,
	// editors and partial writes
	"*.tmp",
	"*.swp",
	"*~",
	".#*",
	// VCS
	".git",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

// IgnoreList decides which content-store paths never become changes. Rules
// come from the defaults, an optional hcsignore file at the root of the
// content store (gitignore syntax) and configured doublestar globs.
type IgnoreList struct {
	baseDir string
	exclude []string
	ignore  *gitignore.GitIgnore
}

func NewIgnoreList(baseDir string, exclude []string) *IgnoreList {
	return &IgnoreList{baseDir: baseDir, exclude: exclude}
}

func (l *IgnoreList) Load() {
	lines := append([]string{}, defaultIgnoreLines...)

	ignorePath := filepath.Join(l.baseDir, ignoreFileName)
	if file, err := os.Open(ignorePath); err == nil {
		defer file.Close()
		rules := 0
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				lines = append(lines, line)
				rules++
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
		} else {
			slog.Debug("loaded ignore file", "path", ignorePath, "rules", rules)
		}
	} else if !os.IsNotExist(err) {
		slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
	}

	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore takes a slash-separated path relative to the content store.
func (l *IgnoreList) ShouldIgnore(rel string, isDir bool) bool {
	if l.ignore == nil {
		l.Load()
	}
	if l.ignore.MatchesPath(rel) {
		return true
	}
	// rules like "build/" only match below the directory
	if isDir && l.ignore.MatchesPath(rel+"/") {
		return true
	}
	for _, pattern := range l.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
