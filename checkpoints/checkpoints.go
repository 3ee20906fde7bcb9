// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

// Package checkpoints saves and restores model weights keyed by epoch.
//
// Each checkpoint is a pair of files under the save directory:
//
//	weights_epoch_<E>.json   metadata: epoch, hyperparameters, variable index
//	weights_epoch_<E>.bin    gzip-compressed variable contents
//
// Both files are written to a temporary name and renamed into place, so a
// crash mid-save never leaves a truncated checkpoint behind.
package checkpoints

import (
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

const (
	// JSONSuffix and BinSuffix are the extensions of the two files making up
	// a checkpoint.
	JSONSuffix = ".json"
	BinSuffix  = ".bin"

	baseNameFormat = "weights_epoch_%d"

	// DirPermMode is the permission (before umask) used when creating the
	// checkpoint directory.
	DirPermMode = os.FileMode(0770)
)

// header is the JSON metadata stored next to the binary variable contents.
type header struct {
	// Epoch this checkpoint was taken at.
	Epoch int

	// Params are the context hyperparameters, all scopes.
	Params []savedParam

	// Variables indexes the binary file. Entries are stored in file order.
	Variables []savedVar
}

type savedVar struct {
	// ParameterName is the variable's unique id (scope + name).
	ParameterName string

	Dimensions []int
	DType      dtypes.DType

	// Pos, Length in bytes within the decompressed binary file.
	Pos, Length int
}

type savedParam struct {
	Scope, Key string
	Value      any
	ValueType  string
}

// restoreType undoes the JSON decoder's collapsing of all numbers to float64.
func (p *savedParam) restoreType() {
	value, ok := p.Value.(float64)
	if !ok {
		return
	}
	switch p.ValueType {
	case "int":
		p.Value = int(value)
	case "int32":
		p.Value = int32(value)
	case "int64":
		p.Value = int64(value)
	case "float32":
		p.Value = float32(value)
	}
}

// BasePath returns the path of the checkpoint for the given epoch, without
// the file extensions.
func BasePath(dir string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf(baseNameFormat, epoch))
}

// SaveDue reports whether a checkpoint is due at this epoch, given the
// save frequency.
func SaveDue(epoch, saveFreq int) bool {
	return saveFreq > 0 && epoch%saveFreq == 0
}

// Save writes all context variables and hyperparameters as the checkpoint for
// the given epoch, creating dir if needed. An existing checkpoint for the same
// epoch is atomically replaced.
func Save(ctx *context.Context, dir string, epoch int) error {
	if err := os.MkdirAll(dir, DirPermMode); err != nil {
		return errors.Wrapf(err, "failed to create checkpoint directory %q", dir)
	}
	base := BasePath(dir, epoch)

	h := &header{Epoch: epoch}
	ctx.EnumerateParams(func(scope, name string, value any) {
		h.Params = append(h.Params, savedParam{
			Scope: scope, Key: name, Value: value, ValueType: fmt.Sprintf("%T", value)})
	})

	binTmp := base + BinSuffix + ".tmp"
	if err := writeVariables(ctx, h, binTmp); err != nil {
		_ = os.Remove(binTmp)
		return err
	}

	jsonTmp := base + JSONSuffix + ".tmp"
	if err := writeHeader(h, jsonTmp); err != nil {
		_ = os.Remove(binTmp)
		_ = os.Remove(jsonTmp)
		return err
	}

	// Binary first: a reader always finds the contents its metadata indexes.
	if err := os.Rename(binTmp, base+BinSuffix); err != nil {
		return errors.Wrapf(err, "failed to move checkpoint data into place at %q", base+BinSuffix)
	}
	if err := os.Rename(jsonTmp, base+JSONSuffix); err != nil {
		return errors.Wrapf(err, "failed to move checkpoint metadata into place at %q", base+JSONSuffix)
	}
	return nil
}

func writeVariables(ctx *context.Context, h *header, filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create checkpoint data file %q", filePath)
	}
	if err = writeBinHeader(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write checkpoint data header to %q", filePath)
	}
	w := gzip.NewWriter(f)

	pos := 0
	ctx.EnumerateVariables(func(v *context.Variable) {
		if err != nil {
			return
		}
		t := v.MustValue()
		shape := t.Shape()
		var n int
		var writeErr error
		accessErr := t.ConstBytes(func(data []byte) {
			n, writeErr = w.Write(data)
		})
		if accessErr != nil {
			err = errors.Wrapf(accessErr, "failed to access contents of variable %q", v.ParameterName())
			return
		}
		if writeErr != nil {
			err = errors.Wrapf(writeErr, "failed to write variable %q", v.ParameterName())
			return
		}
		h.Variables = append(h.Variables, savedVar{
			ParameterName: v.ParameterName(),
			Dimensions:    shape.Dimensions,
			DType:         shape.DType,
			Pos:           pos,
			Length:        n,
		})
		pos += n
	})
	if err != nil {
		_ = f.Close()
		return err
	}
	if err = w.Close(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to flush checkpoint data file %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to close checkpoint data file %q", filePath)
}

func writeHeader(h *header, filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create checkpoint metadata file %q", filePath)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "\t")
	if err = enc.Encode(h); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write checkpoint metadata file %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to close checkpoint metadata file %q", filePath)
}

// Load restores the checkpoint at base (the path without file extensions) into
// ctx: hyperparameters are set, existing variables are overwritten and missing
// ones created. It returns the epoch the checkpoint was saved at.
func Load(ctx *context.Context, base string) (epoch int, err error) {
	jsonFile, err := os.Open(base + JSONSuffix)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open checkpoint metadata %q", base+JSONSuffix)
	}
	defer func() { _ = jsonFile.Close() }()
	var h header
	if err = json.NewDecoder(jsonFile).Decode(&h); err != nil {
		return 0, errors.Wrapf(err, "failed to decode checkpoint metadata %q", base+JSONSuffix)
	}
	for i := range h.Params {
		h.Params[i].restoreType()
	}

	binFile, err := os.Open(base + BinSuffix)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open checkpoint data %q", base+BinSuffix)
	}
	defer func() { _ = binFile.Close() }()
	r, err := binReader(binFile)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read checkpoint data %q", base+BinSuffix)
	}

	for _, p := range h.Params {
		ctx.InAbsPath(p.Scope).SetParam(p.Key, p.Value)
	}

	// Variables are stored in file order; read them back sequentially.
	ctxToSet := ctx.Checked(false)
	pos := 0
	for _, varInfo := range h.Variables {
		if varInfo.Pos != pos {
			return 0, errors.Errorf("checkpoint %q: variable %q stored at byte %d, expected %d",
				base, varInfo.ParameterName, varInfo.Pos, pos)
		}
		t := tensors.FromShape(shapes.Make(varInfo.DType, varInfo.Dimensions...))
		var readErr error
		accessErr := t.MutableBytes(func(data []byte) {
			_, readErr = io.ReadFull(r, data)
		})
		if accessErr != nil {
			return 0, errors.Wrapf(accessErr, "failed to access tensor data for variable %q", varInfo.ParameterName)
		}
		if readErr != nil {
			return 0, errors.Wrapf(readErr, "checkpoint %q: failed to read contents of variable %q",
				base, varInfo.ParameterName)
		}
		pos += varInfo.Length

		scope, name := context.VariableScopeAndNameFromParameterName(varInfo.ParameterName)
		if v := ctxToSet.GetVariableByScopeAndName(scope, name); v != nil {
			v.MustSetValue(t)
		} else {
			ctxToSet.InAbsPath(scope).VariableWithValue(name, t)
		}
	}
	return h.Epoch, nil
}

var baseNameRegexp = regexp.MustCompile(`^weights_epoch_(\d+)\.json$`)

// Latest returns the base path and epoch of the highest-epoch checkpoint in
// dir. It returns an error if the directory holds no checkpoints.
func Latest(dir string) (base string, epoch int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, errors.Wrapf(err, "failed to list checkpoint directory %q", dir)
	}
	epoch = -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := baseNameRegexp.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		e, convErr := strconv.Atoi(matches[1])
		if convErr != nil {
			continue
		}
		if e > epoch {
			epoch = e
		}
	}
	if epoch < 0 {
		return "", 0, errors.Errorf("no checkpoints found in %q", dir)
	}
	return BasePath(dir, epoch), epoch, nil
}

// The binary file starts with a fixed marker followed by the compression name,
// so older uncompressed files remain readable.
const (
	binMarker  = "gomlx_checkpoints"
	gzipMarker = "gzip"
)

func writeBinHeader(w io.Writer) error {
	var h []byte
	h = append(h, []byte(binMarker)...)
	h = append(h, byte(len(gzipMarker)))
	h = append(h, []byte(gzipMarker)...)
	_, err := w.Write(h)
	return err
}

func binReader(f io.ReadSeeker) (io.Reader, error) {
	marker := make([]byte, len(binMarker))
	if _, err := io.ReadFull(f, marker); err != nil {
		return nil, errors.Wrap(err, "failed reading header")
	}
	if string(marker) != binMarker {
		// Uncompressed legacy file: raw variable contents from byte 0.
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, errors.Wrap(err, "failed to rewind")
		}
		return f, nil
	}
	var nameLen uint8
	if err := binary.Read(f, binary.BigEndian, &nameLen); err != nil {
		return nil, errors.Wrap(err, "failed reading header")
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(f, name); err != nil {
		return nil, errors.Wrap(err, "failed reading header")
	}
	if string(name) != gzipMarker {
		return nil, errors.Errorf("unsupported compression %q", name)
	}
	r, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed reading gzip header")
	}
	return r, nil
}
