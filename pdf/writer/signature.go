package writer

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/generic"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/reader"
)

// Annotation flags Print | Locked.
const sigWidgetFlags = 132

// AcroForm SigFlags SignaturesExist | AppendOnly.
const sigFlags = 3

// byteRangeWidth is the length of the fixed-width /ByteRange array.
var byteRangeWidth = len(formatByteRange([4]int64{}))

var (
	// ErrFieldExists is returned when the requested field name is taken.
	ErrFieldExists = errors.New("signature field already exists")
	// ErrContentsOverflow is returned when an envelope is larger than the slot.
	ErrContentsOverflow = errors.New("envelope larger than reserved contents")
)

// FieldSpec describes the signature field added by an update.
type FieldSpec struct {
	// FieldName defaults to the first free "SignatureN".
	FieldName string
	// Page is the 0-based index of the page that carries the widget.
	Page int
	// Rect is the widget rectangle. A zero rectangle makes the field invisible.
	Rect generic.Rectangle
	// Appearance, when set, becomes the normal appearance stream of the widget.
	Appearance *generic.StreamObject

	Reason      string
	Location    string
	ContactInfo string
	Name        string
	SigningTime time.Time

	Filter    string
	SubFilter string
}

// Placeholder is a document with a reserved, zero-filled signature slot.
type Placeholder struct {
	Data      []byte
	FieldName string
	// Width is the number of envelope bytes the slot can hold.
	Width int
	// ByteRangeOffset is the offset of the '[' opening the /ByteRange array.
	ByteRangeOffset int64
	// ContentsStart is the offset of the '<' opening /Contents and
	// ContentsEnd the offset just past its '>'.
	ContentsStart int64
	ContentsEnd   int64
}

// Gap returns the excluded region [start, end) and the document length.
func (p *Placeholder) Gap() (start, end, total int64) {
	return p.ContentsStart, p.ContentsEnd, int64(len(p.Data))
}

// SetByteRange overwrites the reserved /ByteRange array in place.
func (p *Placeholder) SetByteRange(values [4]int64) error {
	s := formatByteRange(values)
	if len(s) != byteRangeWidth {
		return fmt.Errorf("byte range %v does not fit the reserved array", values)
	}
	copy(p.Data[p.ByteRangeOffset:], s)
	return nil
}

// Embed writes envelope into the contents slot as hex, zero-padded to the
// reserved width. No byte outside the slot changes.
func (p *Placeholder) Embed(envelope []byte) error {
	if len(envelope) > p.Width {
		return fmt.Errorf("%w: %d > %d bytes", ErrContentsOverflow, len(envelope), p.Width)
	}
	slot := p.Data[p.ContentsStart+1 : p.ContentsEnd-1]
	n := hex.Encode(slot, envelope)
	for i := n; i < len(slot); i++ {
		slot[i] = '0'
	}
	return nil
}

func formatByteRange(v [4]int64) string {
	return fmt.Sprintf("[%010d %010d %010d %010d]", v[0], v[1], v[2], v[3])
}

// rawObject is written verbatim. It holds the fixed-width placeholders.
type rawObject []byte

func (r rawObject) Write(w io.Writer) error {
	_, err := w.Write(r)
	return err
}

func contentsPlaceholder(width int) rawObject {
	b := make([]byte, 2*width+2)
	b[0] = '<'
	for i := 1; i < len(b)-1; i++ {
		b[i] = '0'
	}
	b[len(b)-1] = '>'
	return b
}

// AppendSignaturePlaceholder appends a revision to doc holding a new
// signature field whose value reserves width bytes for the envelope. doc is
// an unchanged prefix of the result.
func AppendSignaturePlaceholder(doc []byte, spec FieldSpec, width int) (*Placeholder, error) {
	if width <= 0 {
		return nil, fmt.Errorf("invalid placeholder width %d", width)
	}
	r, err := reader.NewPdfFileReaderFromBytes(doc)
	if err != nil {
		return nil, err
	}
	w := NewIncrementalPdfFileWriter(r)
	fieldName, sigRef, err := w.AddSignatureField(spec, width)
	if err != nil {
		return nil, err
	}

	data, layout, err := w.Bytes()
	if err != nil {
		return nil, err
	}
	ph := &Placeholder{Data: data, FieldName: fieldName, Width: width}
	objStart := layout.Offsets[sigRef.ObjectNumber]
	// Both keys precede every string value in the dictionary, so the first
	// match after the object header is the entry itself.
	brIdx := bytes.Index(data[objStart:], []byte("/ByteRange "))
	ctIdx := bytes.Index(data[objStart:], []byte("/Contents "))
	if brIdx < 0 || ctIdx < 0 {
		return nil, errors.New("signature dictionary placeholders not found")
	}
	ph.ByteRangeOffset = objStart + int64(brIdx+len("/ByteRange "))
	ph.ContentsStart = objStart + int64(ctIdx+len("/Contents "))
	ph.ContentsEnd = ph.ContentsStart + int64(2*width+2)
	return ph, nil
}

// AddSignatureField adds a signature dictionary with reserved /ByteRange and
// /Contents, a widget annotation referencing it, and registers the widget
// with the page and the AcroForm. It returns the field name and the
// reference of the signature dictionary.
func (w *IncrementalPdfFileWriter) AddSignatureField(spec FieldSpec, width int) (string, generic.Reference, error) {
	pages, err := w.Reader.PageRefs()
	if err != nil {
		return "", generic.Reference{}, err
	}
	if spec.Page < 0 || spec.Page >= len(pages) {
		return "", generic.Reference{}, fmt.Errorf("page index %d out of range (%d pages)", spec.Page, len(pages))
	}
	pageRef := pages[spec.Page]

	root, err := w.GetRoot()
	if err != nil {
		return "", generic.Reference{}, err
	}
	root = root.Clone()
	acroForm, acroFormRef, err := w.acroForm(root)
	if err != nil {
		return "", generic.Reference{}, err
	}
	fields, err := w.fieldArray(acroForm)
	if err != nil {
		return "", generic.Reference{}, err
	}

	name, err := w.fieldName(fields, spec.FieldName)
	if err != nil {
		return "", generic.Reference{}, err
	}

	sigRef := w.AddObject(signatureDictionary(spec, width))

	widget := generic.NewDictionary()
	widget.Set("Type", generic.NameObject("Annot"))
	widget.Set("Subtype", generic.NameObject("Widget"))
	widget.Set("FT", generic.NameObject("Sig"))
	widget.Set("T", generic.NewTextString(name))
	widget.Set("V", sigRef)
	widget.Set("F", generic.IntegerObject(sigWidgetFlags))
	widget.Set("P", pageRef)
	widget.Set("Rect", spec.Rect.ToArray())
	if spec.Appearance != nil {
		ap := generic.NewDictionary()
		ap.Set("N", w.AddObject(spec.Appearance))
		widget.Set("AP", ap)
	}
	widgetRef := w.AddObject(widget)

	if err := w.addAnnotation(pageRef, widgetRef); err != nil {
		return "", generic.Reference{}, err
	}

	acroForm.Set("Fields", append(fields, widgetRef))
	flags, _ := acroForm.GetInt("SigFlags")
	acroForm.Set("SigFlags", generic.IntegerObject(flags|sigFlags))
	if acroFormRef != nil {
		w.UpdateObject(*acroFormRef, acroForm)
	} else {
		root.Set("AcroForm", acroForm)
		w.UpdateObject(w.rootRef, root)
	}

	return name, sigRef, nil
}

func signatureDictionary(spec FieldSpec, width int) *generic.DictionaryObject {
	filter, subFilter := spec.Filter, spec.SubFilter
	if filter == "" {
		filter = "Adobe.PPKLite"
	}
	if subFilter == "" {
		subFilter = "adbe.pkcs7.detached"
	}

	d := generic.NewDictionary()
	d.Set("Type", generic.NameObject("Sig"))
	d.Set("Filter", generic.NameObject(filter))
	d.Set("SubFilter", generic.NameObject(subFilter))
	d.Set("ByteRange", rawObject(formatByteRange([4]int64{})))
	d.Set("Contents", contentsPlaceholder(width))
	if !spec.SigningTime.IsZero() {
		d.Set("M", generic.NewLiteralString(generic.FormatDate(spec.SigningTime)))
	}
	for _, e := range []struct{ key, value string }{
		{"Name", spec.Name},
		{"Reason", spec.Reason},
		{"Location", spec.Location},
		{"ContactInfo", spec.ContactInfo},
	} {
		if e.value != "" {
			d.Set(e.key, generic.NewTextString(e.value))
		}
	}
	return d
}

// acroForm returns a copy of the form dictionary and, when the catalog holds
// it indirectly, its reference. A missing form is created inline.
func (w *IncrementalPdfFileWriter) acroForm(root *generic.DictionaryObject) (*generic.DictionaryObject, *generic.Reference, error) {
	v := root.Get("AcroForm")
	if v == nil {
		return generic.NewDictionary(), nil, nil
	}
	d, err := w.GetDict(v)
	if err != nil {
		return nil, nil, fmt.Errorf("reading /AcroForm: %w", err)
	}
	if ref, ok := v.(generic.Reference); ok {
		return d.Clone(), &ref, nil
	}
	return d.Clone(), nil, nil
}

// fieldArray returns a copy of /Fields. An indirect array is inlined.
func (w *IncrementalPdfFileWriter) fieldArray(acroForm *generic.DictionaryObject) (generic.ArrayObject, error) {
	v := acroForm.Get("Fields")
	if v == nil {
		return generic.ArrayObject{}, nil
	}
	arr, err := w.Reader.GetArray(v)
	if err != nil {
		return nil, fmt.Errorf("reading /Fields: %w", err)
	}
	return append(generic.ArrayObject{}, arr...), nil
}

func (w *IncrementalPdfFileWriter) fieldName(fields generic.ArrayObject, requested string) (string, error) {
	taken := make(map[string]bool, len(fields))
	for _, f := range fields {
		if d, err := w.GetDict(f); err == nil {
			taken[d.GetText("T")] = true
		}
	}
	if requested != "" {
		if taken[requested] {
			return "", fmt.Errorf("%w: %q", ErrFieldExists, requested)
		}
		return requested, nil
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("Signature%d", i)
		if !taken[name] {
			return name, nil
		}
	}
}

// addAnnotation appends annot to the page's /Annots, rewriting the array
// object when the page refers to it indirectly.
func (w *IncrementalPdfFileWriter) addAnnotation(pageRef, annot generic.Reference) error {
	page, err := w.GetDict(pageRef)
	if err != nil {
		return err
	}
	page = page.Clone()

	switch v := page.Get("Annots").(type) {
	case nil:
		page.Set("Annots", generic.ArrayObject{annot})
	case generic.Reference:
		arr, err := w.Reader.GetArray(v)
		if err != nil {
			return fmt.Errorf("reading /Annots: %w", err)
		}
		w.UpdateObject(v, append(append(generic.ArrayObject{}, arr...), annot))
		return nil
	case generic.ArrayObject:
		page.Set("Annots", append(append(generic.ArrayObject{}, v...), annot))
	default:
		return fmt.Errorf("page /Annots has type %T", v)
	}
	w.UpdateObject(pageRef, page)
	return nil
}
