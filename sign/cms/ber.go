package cms

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Signature envelopes embedded in PDFs are frequently BER encoded
// (indefinite lengths, constructed OCTET STRINGs). encoding/asn1 only
// accepts DER, so the first element of the /Contents value is rewritten to
// DER before it is decoded.

const (
	berConstructed byte = 0x20
	berClassMask   byte = 0xC0
	berTagMask     byte = 0x1F
	berIndefinite  byte = 0x80
	berMaxDepth         = 64
)

// universal tags that DER requires in primitive form
var berPrimitiveOnly = map[byte]bool{
	0x04: true, // OCTET STRING
	0x0C: true, // UTF8String
	0x12: true, // NumericString
	0x13: true, // PrintableString
	0x14: true, // T61String
	0x16: true, // IA5String
	0x17: true, // UTCTime
	0x18: true, // GeneralizedTime
	0x1A: true, // VisibleString
	0x1B: true, // GeneralString
}

// normalizeBER converts the first BER element of input to DER and returns it
// together with the bytes that follow it.
func normalizeBER(input []byte) (der, rest []byte, err error) {
	var out bytes.Buffer
	n, err := berElement(input, 0, &out, 0)
	if err != nil {
		return nil, nil, err
	}
	return out.Bytes(), input[n:], nil
}

// berElement writes the DER form of the element at input[off] to w and
// returns the number of input bytes it occupied.
func berElement(input []byte, off int, w *bytes.Buffer, depth int) (int, error) {
	if depth > berMaxDepth {
		return 0, errors.New("ber: nesting too deep")
	}
	tag, length, hdr, indefinite, err := berHeader(input, off)
	if err != nil {
		return 0, err
	}
	start := off
	off += hdr

	constructed := tag&berConstructed != 0
	universal := tag&berClassMask == 0
	if constructed && universal && tag&berTagMask == 0x03 {
		return 0, errors.New("ber: constructed BIT STRING is not supported")
	}
	flatten := constructed && universal && berPrimitiveOnly[tag&berTagMask]

	var content bytes.Buffer
	if indefinite {
		if !constructed {
			return 0, errors.New("ber: indefinite length on primitive element")
		}
		for {
			if off+1 >= len(input) {
				return 0, errors.New("ber: missing end-of-contents")
			}
			if input[off] == 0 && input[off+1] == 0 {
				off += 2
				break
			}
			n, err := berChild(input, off, &content, depth, flatten)
			if err != nil {
				return 0, err
			}
			off += n
		}
	} else {
		end := off + length
		if end > len(input) || end < off {
			return 0, fmt.Errorf("ber: element length %d exceeds input at offset %d", length, off)
		}
		if !constructed {
			content.Write(berPrimitive(tag, input[off:end]))
		} else {
			for off < end {
				n, err := berChild(input[:end], off, &content, depth, flatten)
				if err != nil {
					return 0, err
				}
				off += n
			}
		}
		off = end
	}

	if flatten {
		tag &^= berConstructed
	}
	berWriteHeader(w, tag, content.Len())
	w.Write(content.Bytes())
	return off - start, nil
}

// berChild normalizes one child element. Children of a constructed string
// type contribute only their value bytes.
func berChild(input []byte, off int, w *bytes.Buffer, depth int, flatten bool) (int, error) {
	if !flatten {
		return berElement(input, off, w, depth+1)
	}
	var chunk bytes.Buffer
	n, err := berElement(input, off, &chunk, depth+1)
	if err != nil {
		return 0, err
	}
	b := chunk.Bytes()
	_, _, hdr, _, err := berHeader(b, 0)
	if err != nil {
		return 0, err
	}
	w.Write(b[hdr:])
	return n, nil
}

// berPrimitive applies the DER value rules for BOOLEAN and INTEGER.
func berPrimitive(tag byte, value []byte) []byte {
	switch tag {
	case 0x01:
		if len(value) == 1 && value[0] != 0 {
			return []byte{0xFF}
		}
	case 0x02:
		i := 0
		for i < len(value)-1 && value[i] == 0 && value[i+1]&0x80 == 0 {
			i++
		}
		return value[i:]
	}
	return value
}

func berHeader(input []byte, off int) (tag byte, length, hdr int, indefinite bool, err error) {
	if off >= len(input) {
		return 0, 0, 0, false, errors.New("ber: unexpected end of input")
	}
	tag = input[off]
	if tag&berTagMask == berTagMask {
		return 0, 0, 0, false, errors.New("ber: high tag numbers are not supported")
	}
	if off+1 >= len(input) {
		return 0, 0, 0, false, errors.New("ber: truncated length")
	}
	lb := input[off+1]
	hdr = 2
	switch {
	case lb == berIndefinite:
		indefinite = true
	case lb&0x80 == 0:
		length = int(lb)
	default:
		n := int(lb & 0x7F)
		if n > 4 {
			return 0, 0, 0, false, fmt.Errorf("ber: length of %d bytes not supported", n)
		}
		if off+2+n > len(input) {
			return 0, 0, 0, false, errors.New("ber: truncated long-form length")
		}
		var buf [4]byte
		copy(buf[4-n:], input[off+2:off+2+n])
		length = int(binary.BigEndian.Uint32(buf[:]))
		hdr += n
	}
	return tag, length, hdr, indefinite, nil
}

func berWriteHeader(w *bytes.Buffer, tag byte, length int) {
	w.WriteByte(tag)
	switch {
	case length < 0x80:
		w.WriteByte(byte(length))
	case length < 0x100:
		w.Write([]byte{0x81, byte(length)})
	case length < 0x10000:
		w.Write([]byte{0x82, byte(length >> 8), byte(length)})
	case length < 0x1000000:
		w.Write([]byte{0x83, byte(length >> 16), byte(length >> 8), byte(length)})
	default:
		w.Write([]byte{0x84, byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length)})
	}
}
