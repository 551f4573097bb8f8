// Package storage keeps uploaded STIX bundle documents on local disk or in an
// S3-compatible bucket.
package storage

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/cloo-solutions/ctirag/internal/domain"
)

const bundleExt = ".json"

// CleanName reduces name to its base name and checks that it is a .json file.
func CleanName(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" || base == ".." || strings.HasPrefix(base, ".") {
		return "", domain.ErrInvalidFilename.Wrap(fmt.Errorf("unusable filename %q", name))
	}
	if !isBundleName(base) {
		return "", domain.ErrInvalidFilename.Wrap(fmt.Errorf("only .json files are allowed: %q", name))
	}
	return base, nil
}

func isBundleName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), bundleExt)
}

func sortFiles(files []domain.BundleFile) {
	sort.Slice(files, func(i, j int) bool {
		return strings.ToLower(files[i].Name) < strings.ToLower(files[j].Name)
	})
}
