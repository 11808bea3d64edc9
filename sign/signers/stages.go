package signers

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/sudhir-boottttt/MSpdf-sub001/keys"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/writer"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/byterange"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/cms"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/digest"
	"github.com/sudhir-boottttt/MSpdf-sub001/sign/sigerr"
)

// Each stage of a signing operation is its own type and only offers the
// transition to the next one.

type idle struct {
	container []byte
	secret    []byte
}

func (s idle) loadKey() (*keyLoaded, error) {
	secret := bytes.Clone(s.secret)
	defer clear(secret)

	creds, err := keys.LoadKeyContainer(s.container, secret)
	if err != nil {
		return nil, err
	}
	return &keyLoaded{creds: creds}, nil
}

type keyLoaded struct {
	creds *keys.Credentials
}

func (s *keyLoaded) reservePlaceholder(opts SignOptions, signingTime time.Time) (*placeholderReserved, error) {
	requested, err := digest.Lookup(opts.digestName())
	if err != nil {
		return nil, err
	}
	alg, err := cms.DigestForKey(s.creds.Signer, requested)
	if err != nil {
		return nil, err
	}

	builder := cms.NewBuilder(s.creds.Certificate, s.creds.Chain, s.creds.Signer, alg)
	builder.SigningTime = signingTime

	width := opts.PlaceholderSize
	if width <= 0 {
		if width, err = builder.EstimateSize(); err != nil {
			return nil, err
		}
	}
	return &placeholderReserved{builder: builder, width: width}, nil
}

type placeholderReserved struct {
	builder *cms.Builder
	width   int
}

func (s *placeholderReserved) appendRevision(doc []byte, spec writer.FieldSpec) (*appended, error) {
	ph, err := writer.AppendSignaturePlaceholder(doc, spec, s.width)
	if err != nil {
		return nil, fmt.Errorf("appending signature revision: %w", err)
	}
	if !bytes.HasPrefix(ph.Data, doc) {
		return nil, errors.New("appending signature revision: original bytes changed")
	}
	return &appended{builder: s.builder, placeholder: ph}, nil
}

type appended struct {
	builder     *cms.Builder
	placeholder *writer.Placeholder
}

func (s *appended) computeDigest() (*digestComputed, error) {
	ph := s.placeholder
	br := byterange.New(ph.Gap())
	if err := br.Validate(int64(len(ph.Data))); err != nil {
		return nil, err
	}
	if err := ph.SetByteRange([4]int64{br.Start1, br.Len1, br.Start2, br.Len2}); err != nil {
		return nil, sigerr.Wrap(sigerr.KindMalformedRange, "writing byte range", err)
	}
	md, err := digest.ComputeWith(ph.Data, br, s.builder.Digest)
	if err != nil {
		return nil, err
	}
	return &digestComputed{builder: s.builder, placeholder: ph, byteRange: br, digest: md}, nil
}

type digestComputed struct {
	builder     *cms.Builder
	placeholder *writer.Placeholder
	byteRange   byterange.ByteRange
	digest      []byte
}

func (s *digestComputed) buildEnvelope() (*envelopeBuilt, error) {
	envelope, err := s.builder.Build(s.digest)
	if err != nil {
		return nil, fmt.Errorf("building envelope: %w", err)
	}
	if len(envelope) > s.placeholder.Width {
		return nil, sigerr.Newf(sigerr.KindPlaceholderTooSmall,
			"envelope needs %d bytes, %d reserved", len(envelope), s.placeholder.Width)
	}
	return &envelopeBuilt{placeholder: s.placeholder, byteRange: s.byteRange, envelope: envelope}, nil
}

type envelopeBuilt struct {
	placeholder *writer.Placeholder
	byteRange   byterange.ByteRange
	envelope    []byte
}

func (s *envelopeBuilt) patch() (*patched, error) {
	if err := s.placeholder.Embed(s.envelope); err != nil {
		return nil, sigerr.Wrap(sigerr.KindPlaceholderTooSmall, "embedding envelope", err)
	}
	return &patched{data: s.placeholder.Data, byteRange: s.byteRange, fieldName: s.placeholder.FieldName}, nil
}

type patched struct {
	data      []byte
	byteRange byterange.ByteRange
	fieldName string
}
