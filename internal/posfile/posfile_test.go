package posfile

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/afma4/internal/fsutil"
	"github.com/banshee-data/afma4/internal/kinematics"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	q := kinematics.JointVector{1.5707963, 0.2, -1.5707963, 0.3927}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, q))
	got, err := Read(&buf)
	require.NoError(t, err)
	assert.InDeltaSlice(t, q.Slice(), got.Slice(), 1e-6)
}

func TestWrite_Format(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, kinematics.JointVector{0, 0.2, 0, 0}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "#AFMA4 - Position - Version 2.01", lines[0])
	assert.Equal(t, "R: 0 0.2 0 0", lines[len(lines)-1])
}

func TestRead_DegreesOnDisk(t *testing.T) {
	t.Parallel()
	in := "#AFMA4 - Position - Version 2.01\n# a comment\n\nR: 90 0.2 -90 22.5\n"
	q, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.5707963267948966, 0.2, -1.5707963267948966, 0.39269908169872414}, q.Slice(), 1e-12)
}

func TestRead_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"empty", "", ErrBadHeader},
		{"wrong robot", "#AFMA6 - Position - Version 2.01\nR: 0 0 0 0 0 0\n", ErrBadHeader},
		{"no record", "#AFMA4 - Position - Version 2.01\n#\n", ErrNoRecord},
		{"short record", "#AFMA4 - Position\nR: 1 2 3\n", ErrBadRecord},
		{"long record", "#AFMA4 - Position\nR: 1 2 3 4 5\n", ErrBadRecord},
		{"not a number", "#AFMA4 - Position\nR: 1 x 3 4\n", ErrBadRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.in))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFile_MemoryAndDisk(t *testing.T) {
	t.Parallel()
	q := kinematics.JointVector{0.4, -0.1, 2.5, -0.7}

	for name, fsys := range map[string]fsutil.FileSystem{
		"memory": fsutil.NewMemoryFileSystem(),
		"os":     fsutil.OSFileSystem{},
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "poses", "home.pos")
			require.NoError(t, WriteFile(fsys, path, q))
			assert.False(t, fsys.Exists(path+".tmp"))

			got, err := ReadFile(fsys, path)
			require.NoError(t, err)
			assert.InDeltaSlice(t, q.Slice(), got.Slice(), 1e-12)
		})
	}
}

func TestReadFile_Missing(t *testing.T) {
	t.Parallel()
	_, err := ReadFile(fsutil.NewMemoryFileSystem(), "nope.pos")
	assert.Error(t, err)
}
