package archivefs

import (
	"strings"

	"github.com/shimomut/tfm/internal/vpath"
)

// DetectFormat maps a filename suffix onto an ArchiveType.
func DetectFormat(name string) (ArchiveType, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return TypeZip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return TypeTarGz, nil
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return TypeTarBz2, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return TypeTarXz, nil
	case strings.HasSuffix(lower, ".tar"):
		return TypeTar, nil
	default:
		return "", vpath.NewErrorf(vpath.KindArchiveFormat, nil, "unrecognized archive suffix: %s", name)
	}
}
