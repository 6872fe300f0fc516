package archive

import (
	"bytes"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	zr.RegisterDecompressor(zipMethodZstd, zstd.ZipDecompressor())

	files := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = content
	}
	return files
}

func nineTiles(enhancedIDs ...int) []Entry {
	enhanced := make(map[int]bool)
	for _, id := range enhancedIDs {
		enhanced[id] = true
	}
	entries := make([]Entry, 0, 9)
	for id := 1; id <= 9; id++ {
		e := Entry{ID: id, Original: []byte{byte(id), 'o'}}
		if enhanced[id] {
			e.Enhanced = []byte{byte(id), 'h', 'd'}
		}
		entries = append(entries, e)
	}
	return entries
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "tile-3-hd.png", FileName(3, true))
	assert.Equal(t, "tile-5-orig.png", FileName(5, false))
}

func TestArchiveName(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	assert.Equal(t, "split-images-1700000000123.zip", ArchiveName(ts))
}

func TestExportSingle(t *testing.T) {
	name, data := ExportSingle(Entry{ID: 3, Original: []byte("o"), Enhanced: []byte("h")})
	assert.Equal(t, "tile-3-hd.png", name)
	assert.Equal(t, []byte("h"), data)

	name, data = ExportSingle(Entry{ID: 5, Original: []byte("o")})
	assert.Equal(t, "tile-5-orig.png", name)
	assert.Equal(t, []byte("o"), data)
}

func TestExportAllNamesAndContent(t *testing.T) {
	for _, method := range []Method{MethodDeflate, MethodZstd, MethodStore} {
		t.Run(string(method), func(t *testing.T) {
			data, err := NewExporter(method).ExportAll(nineTiles(5))
			require.NoError(t, err)

			files := readZip(t, data)
			require.Len(t, files, 9)

			names := make([]string, 0, len(files))
			for name := range files {
				names = append(names, name)
			}
			sort.Strings(names)
			assert.Equal(t, []string{
				"tile-1-orig.png", "tile-2-orig.png", "tile-3-orig.png", "tile-4-orig.png",
				"tile-5-hd.png",
				"tile-6-orig.png", "tile-7-orig.png", "tile-8-orig.png", "tile-9-orig.png",
			}, names)

			assert.Equal(t, []byte{5, 'h', 'd'}, files["tile-5-hd.png"])
			assert.Equal(t, []byte{1, 'o'}, files["tile-1-orig.png"])
		})
	}
}

func TestExportAllPreservesOrder(t *testing.T) {
	data, err := NewExporter(MethodStore).ExportAll(nineTiles())
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 9)
	assert.Equal(t, "tile-1-orig.png", zr.File[0].Name)
	assert.Equal(t, "tile-9-orig.png", zr.File[8].Name)
}

func TestExportAllErrors(t *testing.T) {
	x := NewExporter(MethodDeflate)

	data, err := x.ExportAll(nil)
	assert.Nil(t, data)
	var archiveErr *ArchiveError
	assert.ErrorAs(t, err, &archiveErr)

	data, err = x.ExportAll([]Entry{{ID: 1, Original: []byte("a")}, {ID: 2}})
	assert.Nil(t, data)
	require.ErrorAs(t, err, &archiveErr)
	assert.Equal(t, "tile-2-orig.png", archiveErr.Entry)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteAllPropagatesWriterFailure(t *testing.T) {
	err := NewExporter(MethodStore).WriteAll(failingWriter{}, nineTiles())
	var archiveErr *ArchiveError
	assert.ErrorAs(t, err, &archiveErr)
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"", MethodDeflate, false},
		{"deflate", MethodDeflate, false},
		{"zstd", MethodZstd, false},
		{"store", MethodStore, false},
		{"brotli", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMethod(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewExporterUnknownMethodFallsBack(t *testing.T) {
	assert.Equal(t, MethodDeflate, NewExporter("lzma").method)
}
