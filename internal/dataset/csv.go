package dataset

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// LoadFeaturesCSV loads a CSV of embeddings, one sample per row.
// labelCol is the index of an integer identity column, or -1 for none; all
// other columns are features. Identities are remapped onto 0..n-1.
// hasHeader skips the first line if true.
func LoadFeaturesCSV(filename string, labelCol int, hasHeader bool) (*FeatureSet, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", filename)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read csv %s", filename)
	}

	startRow := 0
	if hasHeader {
		startRow = 1
	}
	if len(records) <= startRow {
		return nil, errors.Errorf("csv file %s has no data rows", filename)
	}

	numCols := len(records[startRow])
	if labelCol >= numCols {
		return nil, errors.Errorf("label column %d out of range, rows have %d columns", labelCol, numCols)
	}
	dim := numCols
	if labelCol >= 0 {
		dim--
	}
	if dim == 0 {
		return nil, errors.Errorf("csv file %s has no feature columns", filename)
	}

	numSamples := len(records) - startRow
	features := mat.NewDense(numSamples, dim, nil)
	var ids []int
	if labelCol >= 0 {
		ids = make([]int, numSamples)
	}

	for i := startRow; i < len(records); i++ {
		record := records[i]
		if len(record) != numCols {
			return nil, errors.Errorf("inconsistent number of columns at row %d", i)
		}

		row := features.RawRowView(i - startRow)
		k := 0
		for j, valStr := range record {
			if j == labelCol {
				id, err := strconv.Atoi(valStr)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to parse label at row %d", i)
				}
				ids[i-startRow] = id
				continue
			}
			val, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse value at row %d, col %d", i, j)
			}
			row[k] = val
			k++
		}
	}

	fs := &FeatureSet{Features: features}
	if ids != nil {
		var unique []int
		fs.Labels, unique = Remap(ids)
		klog.V(1).Infof("dataset: %s: %d samples of dim %d, %d identities", filename, numSamples, dim, len(unique))
	} else {
		klog.V(1).Infof("dataset: %s: %d samples of dim %d", filename, numSamples, dim)
	}
	return fs, nil
}
