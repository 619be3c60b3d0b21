package dataset

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestParseVeriName(t *testing.T) {
	tests := []struct {
		name    string
		want    VeriName
		wantErr bool
	}{
		{"0002_c002_00030600_0.jpg", VeriName{PID: 2, CamID: 2}, false},
		{"0776_c017_00012345_1", VeriName{PID: 776, CamID: 17}, false},
		{"/data/veri/0013_5.jpg", VeriName{PID: 13, CamID: 5}, false},
		{"0013.jpg", VeriName{}, true},
		{"abc_c001.jpg", VeriName{}, true},
		{"0001_cXYZ.jpg", VeriName{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVeriName(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemap(t *testing.T) {
	labels, unique := Remap([]int{776, 2, 13, 2, 776})
	assert.Equal(t, []int{2, 0, 1, 0, 2}, labels)
	assert.Equal(t, []int{2, 13, 776}, unique)

	labels, unique = Remap(nil)
	assert.Empty(t, labels)
	assert.Empty(t, unique)
}

func writeImage(t *testing.T, path string, c color.Color, w, h int) {
	t.Helper()
	require.NoError(t, imaging.Save(imaging.New(w, h, c), path))
}

func TestScanVeri776(t *testing.T) {
	dir := t.TempDir()
	red := color.NRGBA{R: 255, A: 255}
	writeImage(t, filepath.Join(dir, "0776_c001_00000001_0.jpg"), red, 12, 8)
	writeImage(t, filepath.Join(dir, "0002_c003_00000002_0.jpg"), red, 8, 8)
	writeImage(t, filepath.Join(dir, "0002_c004_00000003_0.jpg"), red, 8, 12)
	writeImage(t, filepath.Join(dir, "readme.jpg"), red, 4, 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "list.txt"), []byte("x"), 0o644))

	ds, err := ScanVeri776(dir)
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())
	assert.Equal(t, 2, ds.NumIdentities())
	assert.Equal(t, []int{2, 776}, ds.Identities)

	// Sorted by path.
	assert.Equal(t, VeriSample{Path: filepath.Join(dir, "0002_c003_00000002_0.jpg"), PID: 0, CamID: 3, OriginalPID: 2}, ds.Samples[0])
	assert.Equal(t, 4, ds.Samples[1].CamID)
	assert.Equal(t, 1, ds.Samples[2].PID)
	assert.Equal(t, 776, ds.Samples[2].OriginalPID)

	img, err := ds.Image(2)
	require.NoError(t, err)
	assert.Equal(t, 12, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())

	_, err = ds.Image(3)
	assert.Error(t, err)
}

func TestPixelFeatures(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "0001_c001.jpg"), color.NRGBA{R: 255, A: 255}, 10, 6)
	writeImage(t, filepath.Join(dir, "0005_c002.jpg"), color.NRGBA{B: 255, A: 255}, 6, 10)

	ds, err := ScanVeri776(dir)
	require.NoError(t, err)

	calls := 0
	fs, err := ds.PixelFeaturesWithProgress(4, func() { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, fs.Len())
	assert.Equal(t, 3*4*4, fs.Dim())
	assert.Equal(t, []int{0, 1}, fs.Labels)

	for k := 0; k < fs.Dim(); k += 3 {
		assert.InDelta(t, 1, fs.Features.At(0, k), 0.05, "red channel of the red image")
		assert.InDelta(t, 0, fs.Features.At(0, k+2), 0.05, "blue channel of the red image")
		assert.InDelta(t, 1, fs.Features.At(1, k+2), 0.05, "blue channel of the blue image")
	}

	_, err = ds.PixelFeatures(0)
	assert.Error(t, err)
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "features.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFeaturesCSV(t *testing.T) {
	path := writeCSV(t, "f1,f2,id,f3\n1.0,2.0,776,3.0\n4.0,5.0,13,6.0\n7,8,776,9\n")

	fs, err := LoadFeaturesCSV(path, 2, true)
	require.NoError(t, err)
	assert.Equal(t, 3, fs.Len())
	assert.Equal(t, 3, fs.Dim())
	assert.Equal(t, []float64{1, 2, 3}, fs.Features.RawRowView(0))
	assert.Equal(t, []float64{4, 5, 6}, fs.Features.RawRowView(1))
	assert.Equal(t, []int{1, 0, 1}, fs.Labels)
}

func TestLoadFeaturesCSVWithoutLabels(t *testing.T) {
	path := writeCSV(t, "1,2\n3,4\n")

	fs, err := LoadFeaturesCSV(path, -1, false)
	require.NoError(t, err)
	assert.Nil(t, fs.Labels)
	assert.True(t, mat.Equal(mat.NewDense(2, 2, []float64{1, 2, 3, 4}), fs.Features))
}

func TestLoadFeaturesCSVErrors(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		labelCol  int
		hasHeader bool
	}{
		{"header only", "a,b\n", -1, true},
		{"bad value", "1,x\n", -1, false},
		{"bad label", "1,2.5\n", 1, false},
		{"label out of range", "1,2\n", 5, false},
		{"only a label", "3\n4\n", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFeaturesCSV(writeCSV(t, tt.content), tt.labelCol, tt.hasHeader)
			assert.Error(t, err)
		})
	}

	_, err := LoadFeaturesCSV(filepath.Join(t.TempDir(), "missing.csv"), -1, false)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	fs := &FeatureSet{Features: mat.NewDense(3, 2, []float64{
		0, 5,
		5, 5,
		10, 5,
	})}
	fs.Normalize()

	want := mat.NewDense(3, 2, []float64{
		0, 0,
		0.5, 0,
		1, 0,
	})
	assert.True(t, mat.EqualApprox(want, fs.Features, 1e-12))
}

func TestBatches(t *testing.T) {
	fs := &FeatureSet{
		Features: mat.NewDense(5, 2, []float64{0, 0, 1, 1, 2, 2, 3, 3, 4, 4}),
		Labels:   []int{0, 1, 2, 3, 4},
	}

	batches := fs.Batches(2)
	require.Len(t, batches, 3)

	rows, cols := batches[2].Features.Dims()
	assert.Equal(t, 1, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, []int{2, 3}, batches[1].Labels)
	assert.Equal(t, 2.0, batches[1].Features.At(0, 0))

	// Views share storage.
	batches[0].Features.Set(1, 1, 42)
	assert.Equal(t, 42.0, fs.Features.At(1, 1))

	assert.Panics(t, func() { fs.Batches(0) })
}

func TestSplit(t *testing.T) {
	fs := &FeatureSet{
		Features: mat.NewDense(4, 1, []float64{1, 2, 3, 4}),
		Labels:   []int{0, 0, 1, 1},
	}

	train, test := fs.Split(0.75)
	assert.Equal(t, 3, train.Len())
	assert.Equal(t, 1, test.Len())
	assert.Equal(t, []int{1}, test.Labels)
	assert.Equal(t, 4.0, test.Features.At(0, 0))

	all, none := fs.Split(1.5)
	assert.Equal(t, 4, all.Len())
	assert.Equal(t, 0, none.Len())
}
