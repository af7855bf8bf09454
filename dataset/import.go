package dataset

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// SentinelLabel is assigned to images that sit directly under the imported
// root with no subfolder to name their class. Flag this to users rather than
// silently training on it.
const SentinelLabel = "unlabeled"

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// LabelForPath derives the class label for an imported image from its path
// relative to the chosen root: the name of the parent directory, or
// SentinelLabel when there is no parent segment.
func LabelForPath(relativePath string) string {
	dir := path.Dir(filepath.ToSlash(relativePath))
	if dir == "." || dir == "/" || dir == "" {
		return SentinelLabel
	}
	return path.Base(dir)
}

// IsImagePath reports whether the file name carries a known image extension.
// Used by the CLI walker; non-image entries never reach the store.
func IsImagePath(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// ImportFolder walks root, reads every image file beneath it, and returns the
// labeled batch ready for Store.AddExamples. Labels come from LabelForPath on
// the path relative to root.
func ImportFolder(root string) ([]Example, error) {
	var batch []Example
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !IsImagePath(info.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return errors.Wrapf(err, "could not read image %q", p)
		}
		batch = append(batch, Example{Image: data, Label: LabelForPath(rel)})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not import folder %q", root)
	}
	return batch, nil
}
