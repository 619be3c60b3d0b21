package dataset

import (
	"image"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// VeriName is the identity information encoded in a Veri-776 file name.
type VeriName struct {
	PID   int
	CamID int
}

// ParseVeriName parses "<pid>_c<cam>_..." or "<pid>_<cam>_...", with or
// without the ".jpg" extension.
func ParseVeriName(name string) (VeriName, error) {
	base := strings.TrimSuffix(filepath.Base(name), ".jpg")
	parts := strings.Split(base, "_")
	if len(parts) < 2 {
		return VeriName{}, errors.Errorf("%q: want <pid>_<cam>", name)
	}

	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return VeriName{}, errors.Wrapf(err, "%q: vehicle id", name)
	}
	cam, err := strconv.Atoi(strings.TrimPrefix(parts[1], "c"))
	if err != nil {
		return VeriName{}, errors.Wrapf(err, "%q: camera id", name)
	}
	return VeriName{PID: pid, CamID: cam}, nil
}

// VeriSample is one image of the Veri-776 dataset.
type VeriSample struct {
	Path string
	// PID is the contiguous identity in 0..NumIdentities-1.
	PID         int
	CamID       int
	OriginalPID int
}

// Veri776 indexes a directory of Veri-776 images.
type Veri776 struct {
	Dir     string
	Samples []VeriSample
	// Identities lists the original vehicle ids; PID i stands for Identities[i].
	Identities []int
}

// ScanVeri776 lists the "*.jpg" files of dir in sorted order. Files whose
// names do not parse are skipped.
func ScanVeri776(dir string) (*Veri776, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.jpg"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", dir)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		klog.Warningf("dataset: no images in %s", dir)
	}

	ds := &Veri776{Dir: dir}
	var pids []int
	for _, path := range paths {
		name, err := ParseVeriName(path)
		if err != nil {
			klog.V(1).Infof("dataset: skipping %s: %v", path, err)
			continue
		}
		ds.Samples = append(ds.Samples, VeriSample{
			Path:        path,
			CamID:       name.CamID,
			OriginalPID: name.PID,
		})
		pids = append(pids, name.PID)
	}

	labels, unique := Remap(pids)
	for i := range ds.Samples {
		ds.Samples[i].PID = labels[i]
	}
	ds.Identities = unique

	klog.Infof("dataset: %d images, %d unique identities in %s", len(ds.Samples), len(unique), dir)
	return ds, nil
}

// Len returns the number of samples.
func (ds *Veri776) Len() int { return len(ds.Samples) }

// NumIdentities returns the number of distinct vehicles.
func (ds *Veri776) NumIdentities() int { return len(ds.Identities) }

// Image decodes the i-th image.
func (ds *Veri776) Image(i int) (image.Image, error) {
	if i < 0 || i >= len(ds.Samples) {
		return nil, errors.Errorf("sample %d out of range [0, %d)", i, len(ds.Samples))
	}
	img, err := imaging.Open(ds.Samples[i].Path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image %s", ds.Samples[i].Path)
	}
	return img, nil
}

// PixelFeatures resizes and center-crops every image to size×size and flattens
// its RGB values, scaled to [0, 1], into one row of width 3*size*size.
// Labels are the contiguous PIDs.
func (ds *Veri776) PixelFeatures(size int) (*FeatureSet, error) {
	return ds.pixelFeatures(size, nil)
}

// PixelFeaturesWithProgress is PixelFeatures calling progress after each image.
func (ds *Veri776) PixelFeaturesWithProgress(size int, progress func()) (*FeatureSet, error) {
	return ds.pixelFeatures(size, progress)
}

func (ds *Veri776) pixelFeatures(size int, progress func()) (*FeatureSet, error) {
	if size <= 0 {
		return nil, errors.Errorf("image size must be positive, got %d", size)
	}
	if len(ds.Samples) == 0 {
		return nil, errors.Errorf("no images in %s", ds.Dir)
	}

	dim := 3 * size * size
	features := mat.NewDense(len(ds.Samples), dim, nil)
	labels := make([]int, len(ds.Samples))
	for i, s := range ds.Samples {
		img, err := ds.Image(i)
		if err != nil {
			return nil, err
		}
		rgbRow(imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos), features.RawRowView(i))
		labels[i] = s.PID
		if progress != nil {
			progress()
		}
	}
	return &FeatureSet{Features: features, Labels: labels}, nil
}

// rgbRow writes the RGB channels of img into row, pixel by pixel.
func rgbRow(img *image.NRGBA, row []float64) {
	bounds := img.Bounds()
	k := 0
	for y := 0; y < bounds.Dy(); y++ {
		off := y * img.Stride
		for x := 0; x < bounds.Dx(); x++ {
			p := img.Pix[off+4*x : off+4*x+3]
			row[k] = float64(p[0]) / 255
			row[k+1] = float64(p[1]) / 255
			row[k+2] = float64(p[2]) / 255
			k += 3
		}
	}
}
