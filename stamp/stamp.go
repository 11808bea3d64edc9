// Package stamp renders the visible appearance of signature widgets.
package stamp

import (
	"bytes"
	"fmt"
	"image/color"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/generic"
)

// Style configures the appearance of a stamp.
type Style struct {
	BackgroundColor color.RGBA
	BorderColor     color.RGBA
	// BorderWidth in points. Zero draws no border.
	BorderWidth float64
	TextColor   color.RGBA
	FontSize    float64
	// FontName is one of the standard 14 fonts.
	FontName string
	Padding  float64
}

// DefaultStyle returns the default stamp style.
func DefaultStyle() *Style {
	return &Style{
		BackgroundColor: color.RGBA{255, 255, 255, 255},
		BorderColor:     color.RGBA{0, 0, 0, 255},
		BorderWidth:     1.0,
		TextColor:       color.RGBA{0, 0, 0, 255},
		FontSize:        10.0,
		FontName:        "Helvetica",
		Padding:         5.0,
	}
}

// TextStamp draws lines of text in a bordered box.
type TextStamp struct {
	Style  *Style
	Lines  []string
	Width  float64
	Height float64
}

// NewTextStamp sizes a stamp to fit lines.
func NewTextStamp(lines []string, style *Style) *TextStamp {
	if style == nil {
		style = DefaultStyle()
	}
	maxWidth := 0.0
	for _, line := range lines {
		maxWidth = max(maxWidth, float64(len(line))*style.FontSize*0.5)
	}
	return &TextStamp{
		Style:  style,
		Lines:  lines,
		Width:  maxWidth + style.Padding*2,
		Height: float64(len(lines))*style.FontSize*1.2 + style.Padding*2,
	}
}

// Render returns the content stream of the stamp.
func (s *TextStamp) Render() []byte {
	var buf bytes.Buffer
	buf.WriteString("q\n")

	if s.Style.BackgroundColor.A > 0 {
		fmt.Fprintf(&buf, "%s rg\n", rgb(s.Style.BackgroundColor))
		fmt.Fprintf(&buf, "0 0 %s %s re f\n", num(s.Width), num(s.Height))
	}
	if s.Style.BorderWidth > 0 {
		fmt.Fprintf(&buf, "%s RG\n", rgb(s.Style.BorderColor))
		fmt.Fprintf(&buf, "%s w\n", num(s.Style.BorderWidth))
		fmt.Fprintf(&buf, "0 0 %s %s re S\n", num(s.Width), num(s.Height))
	}

	fmt.Fprintf(&buf, "%s rg\n", rgb(s.Style.TextColor))
	buf.WriteString("BT\n")
	fmt.Fprintf(&buf, "/F1 %s Tf\n", num(s.Style.FontSize))
	leading := s.Style.FontSize * 1.2
	fmt.Fprintf(&buf, "%s TL\n", num(leading))
	fmt.Fprintf(&buf, "%s %s Td\n", num(s.Style.Padding), num(s.Height-s.Style.Padding-s.Style.FontSize))
	for i, line := range s.Lines {
		if i > 0 {
			buf.WriteString("T*\n")
		}
		buf.WriteByte('(')
		buf.Write(escapeString(encodeWinAnsi(line)))
		buf.WriteString(") Tj\n")
	}
	buf.WriteString("ET\n")

	buf.WriteString("Q\n")
	return buf.Bytes()
}

// CreateAppearanceStream wraps the rendered content in a form XObject.
func (s *TextStamp) CreateAppearanceStream() *generic.StreamObject {
	dict := generic.NewDictionary()
	dict.Set("Type", generic.NameObject("XObject"))
	dict.Set("Subtype", generic.NameObject("Form"))
	dict.Set("BBox", generic.Rectangle{URX: s.Width, URY: s.Height}.ToArray())

	font := generic.NewDictionary()
	font.Set("Type", generic.NameObject("Font"))
	font.Set("Subtype", generic.NameObject("Type1"))
	font.Set("BaseFont", generic.NameObject(s.Style.FontName))
	font.Set("Encoding", generic.NameObject("WinAnsiEncoding"))
	fonts := generic.NewDictionary()
	fonts.Set("F1", font)
	resources := generic.NewDictionary()
	resources.Set("Font", fonts)
	dict.Set("Resources", resources)

	return generic.NewStream(dict, s.Render())
}

// SignatureAppearance describes the text shown in a signature widget.
type SignatureAppearance struct {
	Style       *Style
	SignerName  string
	Reason      string
	Location    string
	SigningTime time.Time
	// Text, when set, replaces the generated lines. Lines are separated by '\n'.
	Text string
}

// Lines returns the text lines of the appearance.
func (a *SignatureAppearance) Lines() []string {
	if a.Text != "" {
		return strings.Split(a.Text, "\n")
	}
	lines := []string{"Digitally signed by " + a.SignerName}
	if !a.SigningTime.IsZero() {
		lines = append(lines, "Date: "+a.SigningTime.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	if a.Reason != "" {
		lines = append(lines, "Reason: "+a.Reason)
	}
	if a.Location != "" {
		lines = append(lines, "Location: "+a.Location)
	}
	return lines
}

// CreateAppearanceStream renders the appearance into a box of the given size.
func (a *SignatureAppearance) CreateAppearanceStream(width, height float64) *generic.StreamObject {
	style := a.Style
	if style == nil {
		style = DefaultStyle()
	}
	s := &TextStamp{Style: style, Lines: a.Lines(), Width: width, Height: height}
	return s.CreateAppearanceStream()
}

// encodeWinAnsi maps s to WinAnsiEncoding, replacing unmappable runes with '?'.
func encodeWinAnsi(s string) []byte {
	enc := charmap.Windows1252.NewEncoder()
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, err := enc.Bytes([]byte(string(r)))
		if err != nil || len(b) != 1 {
			out = append(out, '?')
			continue
		}
		out = append(out, b[0])
	}
	return out
}

func escapeString(b []byte) []byte {
	var buf bytes.Buffer
	for _, c := range b {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
		}
		buf.WriteByte(c)
	}
	return buf.Bytes()
}

func rgb(c color.RGBA) string {
	return fmt.Sprintf("%s %s %s", num(float64(c.R)/255), num(float64(c.G)/255), num(float64(c.B)/255))
}

func num(f float64) string {
	s := fmt.Sprintf("%.3f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
