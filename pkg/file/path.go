package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the extension of path. An empty ext strips it.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	lastDot := strings.LastIndex(filename, ".")
	if lastDot <= 0 {
		return filepath.Join(dir, filename+ext)
	}
	return filepath.Join(dir, filename[:lastDot]+ext)
}

// TranslatedPath derives the output name for a translated copy:
// "book.epub" + "ko" becomes "book.ko.epub". Inputs that already carry
// the language tag are returned unchanged.
func TranslatedPath(path, lang string) string {
	ext := filepath.Ext(path)
	tag := "." + lang + ext
	if strings.HasSuffix(path, tag) {
		return path
	}
	return strings.TrimSuffix(path, ext) + tag
}

// IsTranslatedPath reports whether path is an output produced for
// lang, e.g. "book.ko.epub" for "ko".
func IsTranslatedPath(path, lang string) bool {
	ext := filepath.Ext(path)
	return strings.HasSuffix(path, "."+lang+ext)
}
