package file

import (
	"os"
	"path/filepath"
	"strings"
)

// FindByExt walks dir and returns all regular files whose extension
// matches ext (case-insensitive, with or without the leading dot).
func FindByExt(dir, ext string) ([]string, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	ext = strings.ToLower(ext)

	var matches []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo,
		err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && strings.ToLower(filepath.Ext(path)) == ext {
			matches = append(matches, path)
		}
		return nil
	})

	return matches, err
}
