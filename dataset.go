// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

// FER-2013 dataset loading. The dataset is distributed as a single CSV file
// ("fer2013.csv") with rows of the form:
//
//	emotion,pixels,Usage
//
// where emotion is the label (0..6), pixels is a space-separated list of
// 48*48 grayscale bytes in row-major order, and Usage routes the row into the
// training, validation ("PublicTest") or test ("PrivateTest") split.

package fer

import (
	"encoding/csv"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/pkg/errors"
)

// CSVFileName is the file expected under the data directory.
const CSVFileName = "fer2013.csv"

// Split identifies one of the three FER-2013 partitions.
type Split int

const (
	TrainSplit Split = iota
	ValidationSplit
	TestSplit
)

// String implements fmt.Stringer.
func (s Split) String() string {
	switch s {
	case TrainSplit:
		return "train"
	case ValidationSplit:
		return "val"
	case TestSplit:
		return "test"
	}
	return "invalid"
}

// usage column values, as they appear in fer2013.csv.
var usageToSplit = map[string]Split{
	"Training":    TrainSplit,
	"PublicTest":  ValidationSplit,
	"PrivateTest": TestSplit,
}

// SplitForMode maps the --mode flag value to the split evaluated in
// evaluate-only runs. Any value other than "val" or "test" falls back to the
// training split; the second result reports whether the mode was recognized.
func SplitForMode(mode string) (split Split, known bool) {
	switch mode {
	case "val":
		return ValidationSplit, true
	case "test":
		return TestSplit, true
	}
	return TrainSplit, false
}

// SplitData holds one split of FER-2013, decoded and normalized to [0, 1].
type SplitData struct {
	// Pixels is flat, row-major, shaped [Count, Height, Width, 1].
	Pixels []float32

	// Labels are the emotion labels, one per example.
	Labels []int8
}

// Count returns the number of examples in the split.
func (s *SplitData) Count() int { return len(s.Labels) }

// Image returns example i as a grayscale image.
func (s *SplitData) Image(i int) image.Image {
	img := image.NewGray(image.Rect(0, 0, Width, Height))
	base := i * Width * Height
	for p := 0; p < Width*Height; p++ {
		img.Pix[p] = uint8(s.Pixels[base+p]*255.0 + 0.5)
	}
	return img
}

// Data holds the three decoded splits.
type Data struct {
	Train, Validation, Test *SplitData
}

// Split returns the requested split.
func (d *Data) Split(s Split) *SplitData {
	switch s {
	case ValidationSplit:
		return d.Validation
	case TestSplit:
		return d.Test
	}
	return d.Train
}

// Load reads and decodes fer2013.csv from dataDir.
//
// Malformed rows are an error: the file is small enough that a silent skip
// would only hide a corrupted download.
func Load(dataDir string) (*Data, error) {
	filePath := filepath.Join(dataDir, CSVFileName)
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open dataset file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	return parseCSV(f)
}

func parseCSV(r io.Reader) (*Data, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read fer2013 CSV header")
	}
	if header[0] != "emotion" || header[1] != "pixels" || header[2] != "Usage" {
		return nil, errors.Errorf("unexpected fer2013 CSV header %v, wanted [emotion pixels Usage]", header)
	}

	data := &Data{
		Train:      &SplitData{},
		Validation: &SplitData{},
		Test:       &SplitData{},
	}
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read fer2013 CSV row %d", row)
		}
		label, err := strconv.Atoi(record[0])
		if err != nil || label < 0 || label >= NumClasses {
			return nil, errors.Errorf("row %d: invalid emotion label %q", row, record[0])
		}
		split, ok := usageToSplit[record[2]]
		if !ok {
			return nil, errors.Errorf("row %d: unknown usage %q", row, record[2])
		}
		pixels := strings.Fields(record[1])
		if len(pixels) != Width*Height {
			return nil, errors.Errorf("row %d: got %d pixels, wanted %d", row, len(pixels), Width*Height)
		}
		s := data.Split(split)
		for _, p := range pixels {
			v, err := strconv.Atoi(p)
			if err != nil || v < 0 || v > 255 {
				return nil, errors.Errorf("row %d: invalid pixel value %q", row, p)
			}
			s.Pixels = append(s.Pixels, float32(v)/255.0)
		}
		s.Labels = append(s.Labels, int8(label))
		row++
	}
	if data.Train.Count() == 0 {
		return nil, errors.New("fer2013 CSV has no training examples")
	}
	return data, nil
}

// InMemory uploads the split to the backend as an InMemoryDataset, not yet
// batched. Inputs are shaped [count, Height, Width, 1], labels [count, 1].
func (s *SplitData) InMemory(backend backends.Backend, name string) (*datasets.InMemoryDataset, error) {
	n := s.Count()
	if n == 0 {
		return nil, errors.Errorf("split %q is empty", name)
	}
	inputs := tensors.FromFlatDataAndDimensions(s.Pixels, n, Height, Width, 1)
	labels := tensors.FromFlatDataAndDimensions(s.Labels, n, 1)
	return datasets.InMemoryFromData(backend, name, []any{inputs}, []any{labels})
}

// NewDatasets loads FER-2013 from dataDir and returns the three batched
// datasets: training shuffled on every pass, validation and test in file
// order. Incomplete final batches are kept, so every example is seen exactly
// once per pass.
func NewDatasets(backend backends.Backend, dataDir string, batchSize int) (trainDS, validDS, testDS *datasets.InMemoryDataset, err error) {
	data, err := Load(dataDir)
	if err != nil {
		return nil, nil, nil, err
	}
	trainDS, err = data.Train.InMemory(backend, "train")
	if err != nil {
		return nil, nil, nil, err
	}
	trainDS = trainDS.BatchSize(batchSize, false).Shuffle()
	validDS, err = data.Validation.InMemory(backend, "validation")
	if err != nil {
		return nil, nil, nil, err
	}
	validDS = validDS.BatchSize(batchSize, false)
	testDS, err = data.Test.InMemory(backend, "test")
	if err != nil {
		return nil, nil, nil, err
	}
	testDS = testDS.BatchSize(batchSize, false)
	return
}

// ToTensor converts an arbitrary image to the model's input format: grayscale,
// resized to 48x48, float32 in [0, 1], shaped [Height, Width, 1].
func ToTensor(img image.Image) *tensors.Tensor {
	gray := imaging.Grayscale(imaging.Resize(img, Width, Height, imaging.Lanczos))
	flat := make([]float32, Width*Height)
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			flat[y*Width+x] = float32(color.GrayModel.Convert(gray.At(x, y)).(color.Gray).Y) / 255.0
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, Height, Width, 1)
}
