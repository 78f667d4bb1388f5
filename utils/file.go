package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// SafeJoinDir joins parent and rel, failing if the result escapes parent.
func SafeJoinDir(parent, rel string) (string, error) {
	res := filepath.Join(parent, rel)
	if !strings.HasPrefix(filepath.Clean(res), filepath.Clean(parent)+string(os.PathSeparator)) {
		return res, errors.Errorf("unsafe path join: %q with %q", parent, rel)
	}
	return res, nil
}
