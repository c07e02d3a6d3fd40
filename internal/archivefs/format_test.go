package archivefs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shimomut/tfm/internal/vpath"
)

func TestDetectFormatBySuffix(t *testing.T) {
	cases := map[string]ArchiveType{
		"out.zip":     TypeZip,
		"out.tar":     TypeTar,
		"out.tar.gz":  TypeTarGz,
		"out.tgz":     TypeTarGz,
		"out.tar.bz2": TypeTarBz2,
		"out.tbz2":    TypeTarBz2,
		"out.tar.xz":  TypeTarXz,
		"out.txz":     TypeTarXz,
		"OUT.ZIP":     TypeZip,
	}
	for name, want := range cases {
		got, err := DetectFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestDetectFormatRejectsUnknownSuffix(t *testing.T) {
	_, err := DetectFormat("out.rar")
	require.Error(t, err)
	assert.Equal(t, vpath.KindArchiveFormat, vpath.Kind(err))
}
