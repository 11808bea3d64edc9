// Package reader reads the cross-reference structure of PDF files and locates
// the signatures embedded in them.
package reader

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/generic"
)

// Common errors
var (
	ErrInvalidPDF     = errors.New("invalid PDF")
	ErrNoXRef         = errors.New("no xref found")
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidXRef    = errors.New("invalid xref")
)

// maxResolveDepth bounds chains of references to references.
const maxResolveDepth = 32

var headerRegex = regexp.MustCompile(`%PDF-(\d+\.\d+)`)

// PdfFileReader gives read access to the objects of a PDF file. It is not
// safe for concurrent use.
type PdfFileReader struct {
	data    []byte
	Version string
	Trailer *generic.DictionaryObject
	XRef    map[int]*XRefEntry

	// XRefOffsets lists the xref sections from newest to oldest.
	XRefOffsets []int64
	// HasXRefStream is set when the newest section is an xref stream.
	HasXRefStream bool

	objects    map[int]generic.PdfObject
	objStreams map[int]*objectStream
}

type objectStream struct {
	data    []byte
	first   int
	offsets []int
}

// NewPdfFileReaderFromBytes parses the header and the xref chain of data.
// The slice is retained and must not be modified.
func NewPdfFileReaderFromBytes(data []byte) (*PdfFileReader, error) {
	r := &PdfFileReader{
		data:       data,
		XRef:       make(map[int]*XRefEntry),
		objects:    make(map[int]generic.PdfObject),
		objStreams: make(map[int]*objectStream),
	}

	head := data[:min(1024, len(data))]
	m := headerRegex.FindSubmatch(head)
	if m == nil {
		return nil, fmt.Errorf("%w: missing PDF header", ErrInvalidPDF)
	}
	r.Version = string(m[1])

	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	if err := r.parseXRefChain(start); err != nil {
		return nil, err
	}
	if _, ok := r.Trailer.Get("Root").(generic.Reference); !ok {
		return nil, fmt.Errorf("%w: trailer has no /Root reference", ErrInvalidPDF)
	}
	return r, nil
}

// Data returns the raw file bytes.
func (r *PdfFileReader) Data() []byte { return r.data }

// StartXRef returns the offset of the newest xref section.
func (r *PdfFileReader) StartXRef() int64 { return r.XRefOffsets[0] }

// Size returns the trailer /Size, at least one past the highest object number.
func (r *PdfFileReader) Size() int {
	size, _ := r.Trailer.GetInt("Size")
	n := int(size)
	for num := range r.XRef {
		n = max(n, num+1)
	}
	return n
}

// RootRef returns the reference to the document catalog.
func (r *PdfFileReader) RootRef() generic.Reference {
	ref, _ := r.Trailer.Get("Root").(generic.Reference)
	return ref
}

// Root returns the document catalog.
func (r *PdfFileReader) Root() (*generic.DictionaryObject, error) {
	return r.GetDict(r.RootRef())
}

// GetObject returns the object with the given number.
func (r *PdfFileReader) GetObject(objNum int) (generic.PdfObject, error) {
	if obj, ok := r.objects[objNum]; ok {
		return obj, nil
	}
	entry, ok := r.XRef[objNum]
	if !ok || entry.Type == XRefTypeFree {
		return nil, fmt.Errorf("%w: %d", ErrObjectNotFound, objNum)
	}

	var obj generic.PdfObject
	var err error
	if entry.Type == XRefTypeInObjStream {
		obj, err = r.getObjectFromStream(int(entry.Location), entry.Index)
	} else {
		obj, err = r.getObjectAtOffset(objNum, entry.Location)
	}
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", objNum, err)
	}
	r.objects[objNum] = obj
	return obj, nil
}

func (r *PdfFileReader) getObjectAtOffset(objNum int, offset int64) (generic.PdfObject, error) {
	if offset < 0 || offset >= int64(len(r.data)) {
		return nil, fmt.Errorf("%w: offset %d out of bounds", ErrObjectNotFound, offset)
	}
	ind, err := generic.NewParserAt(r.data, int(offset)).ParseIndirectObject()
	if err != nil {
		return nil, err
	}
	if ind.ObjectNumber != objNum {
		return nil, fmt.Errorf("%w: xref points at object %d", ErrInvalidXRef, ind.ObjectNumber)
	}
	return ind.Object, nil
}

func (r *PdfFileReader) getObjectFromStream(streamNum, index int) (generic.PdfObject, error) {
	os, ok := r.objStreams[streamNum]
	if !ok {
		entry, found := r.XRef[streamNum]
		if !found || entry.Type != XRefTypeStandard {
			return nil, fmt.Errorf("%w: object stream %d", ErrObjectNotFound, streamNum)
		}
		obj, err := r.getObjectAtOffset(streamNum, entry.Location)
		if err != nil {
			return nil, err
		}
		stream, ok := obj.(*generic.StreamObject)
		if !ok {
			return nil, fmt.Errorf("object stream %d is not a stream", streamNum)
		}
		if os, err = r.parseObjectStream(stream); err != nil {
			return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
		}
		r.objStreams[streamNum] = os
	}

	if index < 0 || index >= len(os.offsets) {
		return nil, fmt.Errorf("index %d out of bounds in object stream %d", index, streamNum)
	}
	return generic.NewParserAt(os.data, os.first+os.offsets[index]).ParseObject()
}

func (r *PdfFileReader) parseObjectStream(stream *generic.StreamObject) (*objectStream, error) {
	data, err := r.decodeStream(stream)
	if err != nil {
		return nil, err
	}
	n, _ := stream.Dictionary.GetInt("N")
	first, _ := stream.Dictionary.GetInt("First")
	if n < 0 || first < 0 || first > int64(len(data)) {
		return nil, fmt.Errorf("%w: bad /N or /First", ErrInvalidPDF)
	}

	os := &objectStream{data: data, first: int(first)}
	p := generic.NewParser(data[:first])
	for i := int64(0); i < n; i++ {
		if _, err := p.ParseObject(); err != nil {
			return nil, err
		}
		off, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		v, ok := off.(generic.IntegerObject)
		if !ok {
			return nil, fmt.Errorf("%w: non-integer offset in object stream", ErrInvalidPDF)
		}
		os.offsets = append(os.offsets, int(v))
	}
	return os, nil
}

// ObjectOffset returns the file offset at which objNum is stored. For a
// compressed object this is the offset of its object stream.
func (r *PdfFileReader) ObjectOffset(objNum int) (int64, bool) {
	entry, ok := r.XRef[objNum]
	if !ok {
		return 0, false
	}
	switch entry.Type {
	case XRefTypeStandard:
		return entry.Location, true
	case XRefTypeInObjStream:
		return r.ObjectOffset(int(entry.Location))
	}
	return 0, false
}

// Resolve follows references until it reaches a direct object.
func (r *PdfFileReader) Resolve(obj generic.PdfObject) (generic.PdfObject, error) {
	for i := 0; i < maxResolveDepth; i++ {
		ref, ok := obj.(generic.Reference)
		if !ok {
			return obj, nil
		}
		next, err := r.GetObject(ref.ObjectNumber)
		if err != nil {
			return nil, err
		}
		obj = next
	}
	return nil, fmt.Errorf("%w: reference chain too long", ErrInvalidPDF)
}

// GetDict resolves obj and requires a dictionary.
func (r *PdfFileReader) GetDict(obj generic.PdfObject) (*generic.DictionaryObject, error) {
	resolved, err := r.Resolve(obj)
	if err != nil {
		return nil, err
	}
	switch v := resolved.(type) {
	case *generic.DictionaryObject:
		return v, nil
	case *generic.StreamObject:
		return v.Dictionary, nil
	}
	return nil, fmt.Errorf("%w: expected dictionary, got %T", ErrInvalidPDF, resolved)
}

// GetArray resolves obj and requires an array.
func (r *PdfFileReader) GetArray(obj generic.PdfObject) (generic.ArrayObject, error) {
	resolved, err := r.Resolve(obj)
	if err != nil {
		return nil, err
	}
	arr, ok := resolved.(generic.ArrayObject)
	if !ok {
		return nil, fmt.Errorf("%w: expected array, got %T", ErrInvalidPDF, resolved)
	}
	return arr, nil
}

// PageRefs returns references to the leaf pages in document order.
func (r *PdfFileReader) PageRefs() ([]generic.Reference, error) {
	root, err := r.Root()
	if err != nil {
		return nil, err
	}
	pagesRef, ok := root.Get("Pages").(generic.Reference)
	if !ok {
		return nil, fmt.Errorf("%w: catalog has no /Pages reference", ErrInvalidPDF)
	}

	var pages []generic.Reference
	visited := make(map[int]bool)
	var walk func(ref generic.Reference) error
	walk = func(ref generic.Reference) error {
		if visited[ref.ObjectNumber] {
			return fmt.Errorf("%w: cycle in page tree", ErrInvalidPDF)
		}
		visited[ref.ObjectNumber] = true
		node, err := r.GetDict(ref)
		if err != nil {
			return err
		}
		if node.GetName("Type") == "Page" {
			pages = append(pages, ref)
			return nil
		}
		kids, err := r.GetArray(node.Get("Kids"))
		if err != nil {
			return err
		}
		for _, kid := range kids {
			kidRef, ok := kid.(generic.Reference)
			if !ok {
				return fmt.Errorf("%w: page tree kid is not a reference", ErrInvalidPDF)
			}
			if err := walk(kidRef); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(pagesRef); err != nil {
		return nil, err
	}
	return pages, nil
}

// IsEncrypted reports whether the trailer declares encryption.
func (r *PdfFileReader) IsEncrypted() bool {
	return r.Trailer.Has("Encrypt")
}
