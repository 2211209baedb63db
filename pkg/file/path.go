package file

import (
	"path/filepath"
	"strings"
)

func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}

	dir := filepath.Dir(path)
	filename := filepath.Base(path)

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	lastDot := strings.LastIndex(filename, ".")
	if lastDot <= 0 {
		return filepath.Join(dir, filename+ext)
	}
	return filepath.Join(dir, filename[:lastDot]+ext)
}

// WithLanguageSuffix turns "ep1.srt" into "ep1.<lang>.srt".
func WithLanguageSuffix(path, lang string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".srt"
	}
	return ReplaceExt(path, "."+lang+ext)
}
