package analysis

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/uri"
)

func TestEncodeDecode(t *testing.T) {
	contents := &Contents{
		Target:     "file:///workspace?id=core",
		OriginID:   "origin-1",
		CompiledAt: 1700000000000,
		SourceStamps: map[string]string{
			"file:///workspace/src/Main.scala": "compiled",
		},
		Products: map[string]string{
			"file:///workspace?id=core": "/workspace/out/core",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, contents))

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, contents, decoded)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not an lz4 frame")))
	assert.Error(t, err)
}

func TestStore(t *testing.T) {
	t.Run("write then read round trips", func(t *testing.T) {
		store, err := NewStore(filepath.Join(t.TempDir(), "analysis"))
		require.NoError(t, err)

		contents := &Contents{Target: "file:///w?id=a", OriginID: "o"}
		location, err := store.Write(contents)
		require.NoError(t, err)

		decoded, err := store.Read(location)
		require.NoError(t, err)
		assert.Equal(t, contents, decoded)
	})

	t.Run("locations from distinct writes are distinct", func(t *testing.T) {
		store, err := NewStore(t.TempDir())
		require.NoError(t, err)

		first, err := store.Write(&Contents{Target: "t"})
		require.NoError(t, err)
		second, err := store.Write(&Contents{Target: "t"})
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("unexpected location is rejected", func(t *testing.T) {
		store, err := NewStore(t.TempDir())
		require.NoError(t, err)

		_, err = store.Read(uri.File("/tmp/random.txt"))
		assert.Error(t, err)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewStore(dir)
		require.NoError(t, err)

		missing := uri.File(filepath.Join(dir, "gone"+_fileSuffix))
		_, err = store.Read(missing)
		assert.Error(t, err)
		assert.True(t, os.IsNotExist(errUnwrapAll(err)))
	})
}

func TestContentsSize(t *testing.T) {
	small := (&Contents{Target: "t"}).Size()
	large := (&Contents{
		Target:       "t",
		SourceStamps: map[string]string{"a-long-source-path": "stamp-value"},
	}).Size()
	assert.Greater(t, large, small)
}

func errUnwrapAll(err error) error {
	for {
		unwrapped, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		next := unwrapped.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
