package dataset

import (
	"archive/tar"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

type shardEntry struct {
	key   string
	label int
	image []byte
}

// pngBytes encodes a w x h image filled with shade.
func pngBytes(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

// writeShard writes entries as a WebDataset shard, zstd-compressed when
// path ends in .zst.
func writeShard(t *testing.T, path string, entries []shardEntry) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, e := range entries {
		data := e.image
		if data == nil {
			data = []byte(e.key)
		}
		addTarEntry(t, tw, e.key+".png", data)
		addTarEntry(t, tw, e.key+".cls", []byte(strconv.Itoa(e.label)))
	}
	require.NoError(t, tw.Close())

	payload := buf.Bytes()
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		payload = enc.EncodeAll(payload, nil)
		require.NoError(t, enc.Close())
	}
	require.NoError(t, os.WriteFile(path, payload, 0o644))
}

func addTarEntry(t *testing.T, tw *tar.Writer, name string, data []byte) {
	t.Helper()
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	require.NoError(t, tw.WriteHeader(hdr))
	_, err := tw.Write(data)
	require.NoError(t, err)
}
