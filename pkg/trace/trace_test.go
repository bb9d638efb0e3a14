package trace

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead_SumsRepeatedRecords_When_SameLineAppearsTwice(t *testing.T) {
	t.Parallel()

	input := `covgate-trace 1
session abc 1700000000000 1700000001000
# comment
com/example/Main 3 1

com/example/Main 3 2
com/example/Main 4 0
`
	tr, err := Read(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, int64(3), tr.Hits("com/example/Main", 3))
	assert.Equal(t, int64(0), tr.Hits("com/example/Main", 4))
	assert.True(t, tr.Has("com/example/Main"))
	assert.False(t, tr.Has("com/example/Other"))
	require.Len(t, tr.Sessions, 1)
	assert.Equal(t, "abc", tr.Sessions[0].ID)
	assert.Equal(t, int64(1700000001000), tr.Sessions[0].Dump.UnixMilli())
}

func TestRead_ReturnsErrBadHeader_When_HeaderMissing(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader("com/example/Main 3 1\n"))
	assert.ErrorIs(t, err, ErrBadHeader)

	_, err = Read(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestRead_RejectsJacocoExecutionData(t *testing.T) {
	t.Parallel()

	// JaCoCo block header: type 0x01, magic 0xC0C0, format version 0x1007.
	jacoco := []byte{0x01, 0xC0, 0xC0, 0x10, 0x07, 0x00, 0x00}
	_, err := Read(bytes.NewReader(jacoco))
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestRead_RejectsMalformedRecords(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing field":  "com/example/Main 3\n",
		"bad line":       "com/example/Main x 1\n",
		"zero line":      "com/example/Main 0 1\n",
		"negative hits":  "com/example/Main 3 -1\n",
		"short session":  "session abc\n",
		"session millis": "session abc x 1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(Header + "\n" + body))
			assert.Error(t, err)
		})
	}
}

func TestWrite_ProducesReadableSortedOutput(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.Add("b/B", 9, 1)
	tr.Add("a/A", 2, 0)
	tr.Add("a/A", 1, 5)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, tr))

	assert.Equal(t, "covgate-trace 1\na/A 1 5\na/A 2 0\nb/B 9 1\n", buf.String())

	back, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/A", "b/B"}, back.Classes())
	assert.Equal(t, int64(5), back.Hits("a/A", 1))
}

func TestMerge_CombinesSessionsAndHits(t *testing.T) {
	t.Parallel()

	a := New()
	a.Sessions = append(a.Sessions, Session{ID: "one"})
	a.Add("x/X", 1, 1)
	b := New()
	b.Sessions = append(b.Sessions, Session{ID: "two"})
	b.Add("x/X", 1, 2)
	b.Add("x/X", 2, 1)

	a.Merge(b)

	assert.Len(t, a.Sessions, 2)
	assert.Equal(t, int64(3), a.Hits("x/X", 1))
	assert.Equal(t, int64(1), a.Hits("x/X", 2))
}

func TestReadFile_ReportsNotExist_When_FileAbsent(t *testing.T) {
	t.Parallel()

	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.exec"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestWriteFile_RoundTripsAndLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "merged.exec")
	tr := New()
	tr.Sessions = append(tr.Sessions, Session{ID: "s1", Start: time.UnixMilli(1000), Dump: time.UnixMilli(2000)})
	tr.Add("a/A", 3, 2)

	require.NoError(t, WriteFile(path, tr))
	require.NoError(t, WriteFile(path, tr))

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), back.Hits("a/A", 3))
	require.Len(t, back.Sessions, 1)
	assert.Equal(t, "s1", back.Sessions[0].ID)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
