package writer

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/filters"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/generic"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/reader"
)

// LetterSize is the US Letter media box.
var LetterSize = generic.Rectangle{URX: 612, URY: 792}

// PdfFileWriter creates new PDF files.
type PdfFileWriter struct {
	Version string
	// UseXRefStream writes an xref stream and packs every non-stream object
	// into a single object stream.
	UseXRefStream bool

	Objects    map[int]*generic.IndirectObject
	nextObjNum int
	Root       *generic.DictionaryObject
	Info       *generic.DictionaryObject
	Pages      *generic.DictionaryObject
	pagesRef   generic.Reference
}

// NewPdfFileWriter creates a writer holding an empty page tree.
func NewPdfFileWriter(version string) *PdfFileWriter {
	if version == "" {
		version = "1.7"
	}
	w := &PdfFileWriter{
		Version:    version,
		Objects:    make(map[int]*generic.IndirectObject),
		nextObjNum: 1,
	}

	w.Root = generic.NewDictionary()
	w.Root.Set("Type", generic.NameObject("Catalog"))

	w.Pages = generic.NewDictionary()
	w.Pages.Set("Type", generic.NameObject("Pages"))
	w.Pages.Set("Kids", generic.ArrayObject{})
	w.Pages.Set("Count", generic.IntegerObject(0))
	w.pagesRef = w.AddObject(w.Pages)
	w.Root.Set("Pages", w.pagesRef)

	w.Info = generic.NewDictionary()
	w.Info.Set("Producer", generic.NewTextString("pdfsig"))
	return w
}

// AddObject adds an object and returns its reference.
func (w *PdfFileWriter) AddObject(obj generic.PdfObject) generic.Reference {
	objNum := w.nextObjNum
	w.nextObjNum++
	w.Objects[objNum] = &generic.IndirectObject{ObjectNumber: objNum, Object: obj}
	return generic.NewReference(objNum, 0)
}

// AddPage adds a page. contents, when not nil, is stored Flate-compressed.
func (w *PdfFileWriter) AddPage(mediaBox generic.Rectangle, contents []byte) (generic.Reference, error) {
	page := generic.NewDictionary()
	page.Set("Type", generic.NameObject("Page"))
	page.Set("Parent", w.pagesRef)
	page.Set("MediaBox", mediaBox.ToArray())
	page.Set("Resources", generic.NewDictionary())

	if contents != nil {
		encoded, err := filters.FlateDecodeFilter{}.Encode(contents, filters.Params{})
		if err != nil {
			return generic.Reference{}, err
		}
		stream := generic.NewStream(nil, encoded)
		stream.Dictionary.Set("Filter", generic.NameObject("FlateDecode"))
		page.Set("Contents", w.AddObject(stream))
	}

	pageRef := w.AddObject(page)
	kids := append(w.Pages.GetArray("Kids"), pageRef)
	w.Pages.Set("Kids", kids)
	w.Pages.Set("Count", generic.IntegerObject(len(kids)))
	return pageRef, nil
}

// Write writes the complete file to out.
func (w *PdfFileWriter) Write(out io.Writer) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n", w.Version)
	buf.Write([]byte{'%', 0xE2, 0xE3, 0xCF, 0xD3, '\n'})

	rootRef := w.AddObject(w.Root)
	infoRef := w.AddObject(w.Info)

	trailer := generic.NewDictionary()
	trailer.Set("Root", rootRef)
	trailer.Set("Info", infoRef)
	trailer.Set("ID", w.fileID())

	var err error
	if w.UseXRefStream {
		err = w.writeCompressed(&buf, trailer)
	} else {
		err = w.writeClassic(&buf, trailer)
	}
	if err != nil {
		return err
	}
	_, err = out.Write(buf.Bytes())
	return err
}

// fileID derives the identifier from the serialized objects so identical
// documents get identical IDs.
func (w *PdfFileWriter) fileID() generic.ArrayObject {
	h := sha256.New()
	for n := 1; n < w.nextObjNum; n++ {
		if ind := w.Objects[n]; ind != nil {
			h.Write(generic.Serialize(ind.Object))
		}
	}
	id := h.Sum(nil)[:16]
	return generic.ArrayObject{generic.NewHexString(id), generic.NewHexString(id)}
}

func (w *PdfFileWriter) writeClassic(buf *bytes.Buffer, trailer *generic.DictionaryObject) error {
	entries := []reader.XRefEntry{{Type: reader.XRefTypeFree, Generation: 65535}}
	for n := 1; n < w.nextObjNum; n++ {
		entries = append(entries, reader.XRefEntry{Type: reader.XRefTypeStandard, Location: int64(buf.Len())})
		if err := writeIndirect(buf, w.Objects[n]); err != nil {
			return err
		}
	}

	xrefOffset := buf.Len()
	if err := reader.WriteXRefTable(buf, []reader.XRefSubsection{{Start: 0, Entries: entries}}); err != nil {
		return err
	}
	trailer.Set("Size", generic.IntegerObject(w.nextObjNum))
	buf.WriteString("trailer\n")
	if err := trailer.Write(buf); err != nil {
		return err
	}
	fmt.Fprintf(buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return nil
}

// writeCompressed writes streams as regular objects, every other object into
// one object stream, and finishes with an xref stream.
func (w *PdfFileWriter) writeCompressed(buf *bytes.Buffer, trailer *generic.DictionaryObject) error {
	objStmNum := w.nextObjNum
	xrefNum := objStmNum + 1
	entries := make([]reader.XRefEntry, xrefNum+1)
	entries[0] = reader.XRefEntry{Type: reader.XRefTypeFree, Generation: 65535}

	var header, body bytes.Buffer
	packed := 0
	for n := 1; n < objStmNum; n++ {
		ind := w.Objects[n]
		if _, isStream := ind.Object.(*generic.StreamObject); isStream {
			entries[n] = reader.XRefEntry{Type: reader.XRefTypeStandard, Location: int64(buf.Len())}
			if err := writeIndirect(buf, ind); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(&header, "%d %d ", n, body.Len())
		if err := ind.Object.Write(&body); err != nil {
			return err
		}
		body.WriteByte('\n')
		entries[n] = reader.XRefEntry{Type: reader.XRefTypeInObjStream, Location: int64(objStmNum), Index: packed}
		packed++
	}

	stmData := append(header.Bytes(), body.Bytes()...)
	encoded, err := filters.FlateDecodeFilter{}.Encode(stmData, filters.Params{})
	if err != nil {
		return err
	}
	stmDict := generic.NewDictionary()
	stmDict.Set("Type", generic.NameObject("ObjStm"))
	stmDict.Set("N", generic.IntegerObject(packed))
	stmDict.Set("First", generic.IntegerObject(header.Len()))
	stmDict.Set("Filter", generic.NameObject("FlateDecode"))
	entries[objStmNum] = reader.XRefEntry{Type: reader.XRefTypeStandard, Location: int64(buf.Len())}
	if err := writeIndirect(buf, &generic.IndirectObject{ObjectNumber: objStmNum, Object: generic.NewStream(stmDict, encoded)}); err != nil {
		return err
	}

	xrefOffset := buf.Len()
	entries[xrefNum] = reader.XRefEntry{Type: reader.XRefTypeStandard, Location: int64(xrefOffset)}
	data, widths, index := reader.EncodeXRefStream([]reader.XRefSubsection{{Start: 0, Entries: entries}})
	encoded, err = filters.FlateDecodeFilter{}.Encode(data, filters.Params{})
	if err != nil {
		return err
	}
	trailer.Set("Type", generic.NameObject("XRef"))
	trailer.Set("Size", generic.IntegerObject(xrefNum+1))
	trailer.Set("W", widths)
	trailer.Set("Index", index)
	trailer.Set("Filter", generic.NameObject("FlateDecode"))
	if err := writeIndirect(buf, &generic.IndirectObject{ObjectNumber: xrefNum, Object: generic.NewStream(trailer, encoded)}); err != nil {
		return err
	}
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return nil
}

// BlankOptions configures NewBlankDocument.
type BlankOptions struct {
	Pages         int
	MediaBox      generic.Rectangle
	UseXRefStream bool
}

// NewBlankDocument returns a document with empty pages.
func NewBlankDocument(opts BlankOptions) ([]byte, error) {
	if opts.Pages <= 0 {
		opts.Pages = 1
	}
	if opts.MediaBox.IsZero() {
		opts.MediaBox = LetterSize
	}
	w := NewPdfFileWriter("1.7")
	w.UseXRefStream = opts.UseXRefStream
	for i := 0; i < opts.Pages; i++ {
		if _, err := w.AddPage(opts.MediaBox, []byte("q Q\n")); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if err := w.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
