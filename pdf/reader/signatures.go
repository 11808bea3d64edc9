package reader

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/generic"
)

// maxFieldDepth bounds recursion into the AcroForm field tree.
const maxFieldDepth = 32

// EmbeddedSignature is one signature found in a document.
type EmbeddedSignature struct {
	// Index is the 0-based position of the signature in file order.
	Index     int
	FieldName string
	// Contents holds the raw envelope bytes, zero padding included.
	Contents []byte
	// ByteRange is the raw /ByteRange array, nil when absent.
	ByteRange []int64

	Filter      string
	SubFilter   string
	Reason      string
	Location    string
	ContactInfo string
	Name        string
	// SigningTime is the /M entry, when present and parseable.
	SigningTime *time.Time

	// ObjectNumber is 0 when the dictionary was found by scanning.
	ObjectNumber int
	// Offset is the file offset of the signature dictionary.
	Offset int64
}

// ListSignatureFields returns the signatures of a document in file order.
// The AcroForm field tree is used when the cross-reference data can be read.
// When it cannot, or when the field tree yields nothing, the bytes are
// scanned for signature dictionaries. An error is returned only when neither
// approach finds a readable structure.
func ListSignatureFields(data []byte) ([]*EmbeddedSignature, error) {
	r, err := NewPdfFileReaderFromBytes(data)
	if err == nil {
		sigs, walkErr := r.GetEmbeddedSignatures()
		if walkErr == nil && len(sigs) > 0 {
			return sigs, nil
		}
		err = walkErr
	}

	if sigs := ScanSignatures(data); len(sigs) > 0 {
		return sigs, nil
	}
	if err == nil {
		return nil, nil
	}
	if !headerRegex.Match(data[:min(1024, len(data))]) {
		return nil, err
	}
	// A PDF whose structure cannot be read and has no signature dictionaries.
	return nil, fmt.Errorf("document structure unreadable: %w", err)
}

// GetEmbeddedSignatures walks the AcroForm fields and returns every signature
// field that has a value.
func (r *PdfFileReader) GetEmbeddedSignatures() ([]*EmbeddedSignature, error) {
	root, err := r.Root()
	if err != nil {
		return nil, err
	}
	if !root.Has("AcroForm") {
		return nil, nil
	}
	acroForm, err := r.GetDict(root.Get("AcroForm"))
	if err != nil {
		return nil, fmt.Errorf("reading /AcroForm: %w", err)
	}
	if !acroForm.Has("Fields") {
		return nil, nil
	}
	fields, err := r.GetArray(acroForm.Get("Fields"))
	if err != nil {
		return nil, fmt.Errorf("reading /Fields: %w", err)
	}

	w := &fieldWalker{r: r, visited: make(map[int]bool), seen: make(map[int]bool)}
	for _, f := range fields {
		if err := w.walk(f, "", "", 0); err != nil {
			return nil, err
		}
	}

	sortSignatures(w.sigs)
	return w.sigs, nil
}

type fieldWalker struct {
	r       *PdfFileReader
	visited map[int]bool
	seen    map[int]bool
	sigs    []*EmbeddedSignature
}

func (w *fieldWalker) walk(obj generic.PdfObject, parentName, inheritedFT string, depth int) error {
	if depth > maxFieldDepth {
		return fmt.Errorf("%w: field tree too deep", ErrInvalidPDF)
	}
	fieldOffset := int64(-1)
	if ref, ok := obj.(generic.Reference); ok {
		if w.visited[ref.ObjectNumber] {
			return nil
		}
		w.visited[ref.ObjectNumber] = true
		if off, ok := w.r.ObjectOffset(ref.ObjectNumber); ok {
			fieldOffset = off
		}
	}
	field, err := w.r.GetDict(obj)
	if err != nil {
		return err
	}

	name := parentName
	if t := field.GetText("T"); t != "" {
		if name != "" {
			name += "."
		}
		name += t
	}
	ft := inheritedFT
	if v := field.GetName("FT"); v != "" {
		ft = v
	}

	if ft == "Sig" && field.Has("V") {
		if err := w.addSignature(field, name, fieldOffset); err != nil {
			return err
		}
	}

	if !field.Has("Kids") {
		return nil
	}
	kids, err := w.r.GetArray(field.Get("Kids"))
	if err != nil {
		return err
	}
	for _, kid := range kids {
		if err := w.walk(kid, name, ft, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (w *fieldWalker) addSignature(field *generic.DictionaryObject, name string, fieldOffset int64) error {
	v := field.Get("V")
	objNum := 0
	offset := fieldOffset
	if ref, ok := v.(generic.Reference); ok {
		objNum = ref.ObjectNumber
		if w.seen[objNum] {
			return nil
		}
		w.seen[objNum] = true
		if off, ok := w.r.ObjectOffset(objNum); ok {
			offset = off
		}
	}
	sigDict, err := w.r.GetDict(v)
	if err != nil {
		return fmt.Errorf("signature value of field %q: %w", name, err)
	}

	sig := signatureFromDict(sigDict, w.r.Resolve)
	sig.FieldName = name
	sig.ObjectNumber = objNum
	sig.Offset = offset
	w.sigs = append(w.sigs, sig)
	return nil
}

type resolver func(generic.PdfObject) (generic.PdfObject, error)

// signatureFromDict extracts the signature entries. resolve may be nil when
// indirect values cannot be followed.
func signatureFromDict(d *generic.DictionaryObject, resolve resolver) *EmbeddedSignature {
	get := func(key string) generic.PdfObject {
		v := d.Get(key)
		if resolve != nil {
			if resolved, err := resolve(v); err == nil {
				return resolved
			}
		}
		return v
	}
	text := func(key string) string {
		if s, ok := get(key).(*generic.StringObject); ok {
			return s.Text()
		}
		return ""
	}

	sig := &EmbeddedSignature{
		Filter:      d.GetName("Filter"),
		SubFilter:   d.GetName("SubFilter"),
		Reason:      text("Reason"),
		Location:    text("Location"),
		ContactInfo: text("ContactInfo"),
		Name:        text("Name"),
	}
	if s, ok := get("Contents").(*generic.StringObject); ok {
		sig.Contents = s.Value
	}
	if arr, ok := get("ByteRange").(generic.ArrayObject); ok {
		if ints, ok := arr.Ints(); ok {
			sig.ByteRange = ints
		} else {
			// present but unusable
			sig.ByteRange = []int64{}
		}
	}
	if m := text("M"); m != "" {
		if t, err := generic.ParseDate(m); err == nil {
			sig.SigningTime = &t
		}
	}
	return sig
}

func sortSignatures(sigs []*EmbeddedSignature) {
	sort.SliceStable(sigs, func(i, j int) bool {
		if sigs[i].Offset != sigs[j].Offset {
			return sigs[i].Offset < sigs[j].Offset
		}
		return sigs[i].ObjectNumber < sigs[j].ObjectNumber
	})
	for i, s := range sigs {
		s.Index = i
	}
}

var byteRangeKey = []byte("/ByteRange")

// ScanSignatures finds signature dictionaries lexically, without the
// cross-reference table: every dictionary holding /ByteRange is parsed in
// place. Indirect values inside such dictionaries are not followed.
func ScanSignatures(data []byte) []*EmbeddedSignature {
	var sigs []*EmbeddedSignature
	seen := make(map[int]bool)

	for from := 0; ; {
		idx := bytes.Index(data[from:], byteRangeKey)
		if idx < 0 {
			break
		}
		keyPos := from + idx
		from = keyPos + len(byteRangeKey)

		start := enclosingDictStart(data, keyPos)
		if start < 0 || seen[start] {
			continue
		}
		seen[start] = true

		obj, err := generic.NewParserAt(data, start).ParseObject()
		if err != nil {
			continue
		}
		d, ok := obj.(*generic.DictionaryObject)
		if !ok || !d.Has("ByteRange") || !d.Has("Contents") {
			continue
		}
		sig := signatureFromDict(d, nil)
		sig.Offset = int64(start)
		sig.FieldName = scanFieldName(data, start)
		sigs = append(sigs, sig)
	}

	sortSignatures(sigs)
	return sigs
}

// enclosingDictStart returns the offset of the "<<" that opens the
// dictionary containing pos, or -1.
func enclosingDictStart(data []byte, pos int) int {
	depth := 0
	for i := pos - 1; i > 0; i-- {
		switch {
		case data[i] == '>' && data[i-1] == '>':
			depth++
			i--
		case data[i] == '<' && data[i-1] == '<':
			if depth == 0 {
				return i - 1
			}
			depth--
			i--
		}
	}
	return -1
}

// scanFieldName looks for "/T (name)" in a field dictionary that embeds the
// signature dictionary inline.
func scanFieldName(data []byte, sigStart int) string {
	outer := enclosingDictStart(data, sigStart)
	if outer < 0 {
		return ""
	}
	obj, err := generic.NewParserAt(data, outer).ParseObject()
	if err != nil {
		return ""
	}
	d, ok := obj.(*generic.DictionaryObject)
	if !ok || !strings.EqualFold(d.GetName("FT"), "Sig") {
		return ""
	}
	return d.GetText("T")
}
