// Package filters decodes the stream filters that cross-reference and object
// streams are stored with.
package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Common errors
var (
	ErrUnsupportedFilter = errors.New("unsupported filter")
	ErrDecodeFailed      = errors.New("decode failed")
)

// maxDecodedSize caps the output of a single decode.
const maxDecodedSize = 256 << 20

// Params are the /DecodeParms entries relevant to predictors.
type Params struct {
	Predictor        int
	Colors           int
	BitsPerComponent int
	Columns          int
}

// Filter is a PDF stream filter.
type Filter interface {
	Name() string
	Decode(data []byte, params Params) ([]byte, error)
	Encode(data []byte, params Params) ([]byte, error)
}

// FlateDecodeFilter implements FlateDecode with PNG predictors.
type FlateDecodeFilter struct{}

func (FlateDecodeFilter) Name() string { return "FlateDecode" }

func (FlateDecodeFilter) Decode(data []byte, params Params) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	defer r.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxDecodedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if n > maxDecodedSize {
		return nil, fmt.Errorf("%w: decoded stream exceeds %d bytes", ErrDecodeFailed, maxDecodedSize)
	}
	return applyPredictor(buf.Bytes(), params)
}

func (FlateDecodeFilter) Encode(data []byte, _ Params) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("flate encode failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flate encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

func applyPredictor(data []byte, params Params) ([]byte, error) {
	if params.Predictor < 10 {
		if params.Predictor > 1 {
			return nil, fmt.Errorf("%w: TIFF predictor %d", ErrUnsupportedFilter, params.Predictor)
		}
		return data, nil
	}

	columns := max(params.Columns, 1)
	colors := max(params.Colors, 1)
	bpc := params.BitsPerComponent
	if bpc == 0 {
		bpc = 8
	}
	bytesPerPixel := max((colors*bpc+7)/8, 1)
	rowLength := (columns*colors*bpc+7)/8 + 1
	return decodePNGPredictor(data, rowLength, bytesPerPixel)
}

func decodePNGPredictor(data []byte, rowLength, bpp int) ([]byte, error) {
	if len(data)%rowLength != 0 {
		return nil, fmt.Errorf("%w: predictor data is not a whole number of rows", ErrDecodeFailed)
	}
	out := make([]byte, 0, len(data)/rowLength*(rowLength-1))
	prev := make([]byte, rowLength-1)
	row := make([]byte, rowLength-1)

	for i := 0; i < len(data); i += rowLength {
		kind, src := data[i], data[i+1:i+rowLength]
		for j := range src {
			var left, upLeft byte
			if j >= bpp {
				left = row[j-bpp]
				upLeft = prev[j-bpp]
			}
			up := prev[j]
			switch kind {
			case 0:
				row[j] = src[j]
			case 1:
				row[j] = src[j] + left
			case 2:
				row[j] = src[j] + up
			case 3:
				row[j] = src[j] + byte((int(left)+int(up))/2)
			case 4:
				row[j] = src[j] + paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("%w: PNG filter type %d", ErrDecodeFailed, kind)
			}
		}
		out = append(out, row...)
		copy(prev, row)
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// ASCIIHexDecodeFilter implements ASCIIHexDecode.
type ASCIIHexDecodeFilter struct{}

func (ASCIIHexDecodeFilter) Name() string { return "ASCIIHexDecode" }

func (ASCIIHexDecodeFilter) Decode(data []byte, _ Params) ([]byte, error) {
	cleaned := make([]byte, 0, len(data))
	for _, b := range data {
		if b == '>' {
			break
		}
		if b != ' ' && b != '\t' && b != '\n' && b != '\r' && b != '\f' && b != 0 {
			cleaned = append(cleaned, b)
		}
	}
	if len(cleaned)%2 != 0 {
		cleaned = append(cleaned, '0')
	}
	out := make([]byte, len(cleaned)/2)
	if _, err := hex.Decode(out, cleaned); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return out, nil
}

func (ASCIIHexDecodeFilter) Encode(data []byte, _ Params) ([]byte, error) {
	return []byte(hex.EncodeToString(data) + ">"), nil
}

// ASCII85DecodeFilter implements ASCII85Decode.
type ASCII85DecodeFilter struct{}

func (ASCII85DecodeFilter) Name() string { return "ASCII85Decode" }

func (ASCII85DecodeFilter) Decode(data []byte, _ Params) ([]byte, error) {
	if end := bytes.Index(data, []byte("~>")); end != -1 {
		data = data[:end]
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, ascii85.NewDecoder(bytes.NewReader(data))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return buf.Bytes(), nil
}

func (ASCII85DecodeFilter) Encode(data []byte, _ Params) ([]byte, error) {
	var buf bytes.Buffer
	enc := ascii85.NewEncoder(&buf)
	if _, err := enc.Write(data); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteString("~>")
	return buf.Bytes(), nil
}

// Registry maps filter names, including abbreviations, to implementations.
var Registry = map[string]Filter{
	"FlateDecode":    FlateDecodeFilter{},
	"Fl":             FlateDecodeFilter{},
	"ASCIIHexDecode": ASCIIHexDecodeFilter{},
	"AHx":            ASCIIHexDecodeFilter{},
	"ASCII85Decode":  ASCII85DecodeFilter{},
	"A85":            ASCII85DecodeFilter{},
}

// GetFilter returns a filter by name.
func GetFilter(name string) (Filter, error) {
	if f, ok := Registry[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
}

// DecodeStream applies the named filters in order. params[i] belongs to
// names[i]; missing entries use defaults.
func DecodeStream(data []byte, names []string, params []Params) ([]byte, error) {
	result := data
	for i, name := range names {
		f, err := GetFilter(name)
		if err != nil {
			return nil, err
		}
		var p Params
		if i < len(params) {
			p = params[i]
		}
		if result, err = f.Decode(result, p); err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
	}
	return result, nil
}
