package capture

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// MaxArtifactSuffix is the highest numbered suffix tried before giving up.
const MaxArtifactSuffix = 99

// DateLayout stamps artifact names, e.g. 05Jan2024.
const DateLayout = "02Jan2006"

// TitleDir returns the per-recording directory under saveDir.
func TitleDir(saveDir, name string) string {
	return filepath.Join(saveDir, sanitize(name))
}

// ArtifactPath picks the first unused path
//
//	<dir>/<prefix>_<date><ext>
//	<dir>/<prefix>_<date>_01<ext> .. _99<ext>
//
// so a restarted capture never overwrites an earlier one from the same day.
// The date is read in now's location.
func ArtifactPath(fsys FS, dir, prefix, ext string, now time.Time) (string, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	base := sanitize(prefix) + "_" + now.Format(DateLayout)
	for i := 0; i <= MaxArtifactSuffix; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%02d%s", base, i, ext)
		}
		p := filepath.Join(dir, name)
		ok, err := fsys.Exists(p)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
		if !ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s%s", ErrArtifactExhausted, filepath.Join(dir, base), ext)
}

// sanitize keeps names usable as a single path element.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
