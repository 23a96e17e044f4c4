// =============================================================================
// NF-e Supplier Classifier - Document Extractor
// =============================================================================
//
// This module reads electronic invoice XML documents. It produces two things:
//   1. The set of transaction codes (CFOP) used by the Stage-1 classifier.
//   2. The issuer identity (tax id + display name) used by Stage-2.
//
// The issuer is only read for documents deferred to Stage-2, so the two reads
// are independent and each one streams the document.
//
// ENCODING:
//   Documents declaring a non UTF-8 encoding (ISO-8859-1, windows-1252) are
//   decoded through golang.org/x/net/html/charset.
//
// FAILURES:
//   Malformed markup or missing issuer fields come back as an
//   ExtractionFailure. The caller logs it and skips the document.
//
// =============================================================================

package nfe

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ginjaninja78/nfe-classifier/internal/faults"
	"golang.org/x/net/html/charset"
)

// Namespace is the XML namespace of NF-e documents.
const Namespace = "http://www.portalfiscal.inf.br/nfe"

// =============================================================================
// EXTRACTOR
// =============================================================================

// Extractor reads transaction codes and issuer identity from documents.
// It holds no per-document state and is safe for concurrent use.
type Extractor struct {
	// NameLimit is the maximum length of the cleaned issuer name.
	// Default: 80
	NameLimit int
}

// NewExtractor creates an Extractor. nameLimit <= 0 uses DefaultNameLimit.
func NewExtractor(nameLimit int) *Extractor {
	if nameLimit <= 0 {
		nameLimit = DefaultNameLimit
	}
	return &Extractor{NameLimit: nameLimit}
}

// emitter mirrors the <emit> block of an NF-e.
type emitter struct {
	CNPJ string `xml:"CNPJ"`
	CPF  string `xml:"CPF"`
	Name string `xml:"xNome"`
}

// =============================================================================
// TRANSACTION CODES
// =============================================================================

// Codes reads the document at path and returns its transaction codes.
//
// RETURNS:
//   - The distinct CFOP values, sorted. Empty when the document has none.
//   - An ExtractionFailure if the file cannot be read or parsed.
func (x *Extractor) Codes(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, faults.Wrap(err, faults.ExtractionFailure, "read codes", path)
	}
	defer f.Close()

	codes, err := x.ReadCodes(f)
	if err != nil {
		return nil, faults.Wrap(err, faults.ExtractionFailure, "read codes", path)
	}
	return codes, nil
}

// ReadCodes collects the text of every <CFOP> element, wherever it appears.
func (x *Extractor) ReadCodes(r io.Reader) ([]string, error) {
	dec := newDecoder(r)
	seen := make(map[string]struct{})
	sawRoot := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse document: %w", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true
		if se.Name.Local != "CFOP" {
			continue
		}

		var value string
		if err := dec.DecodeElement(&value, &se); err != nil {
			return nil, fmt.Errorf("failed to read CFOP: %w", err)
		}
		if value = strings.TrimSpace(value); value != "" {
			seen[value] = struct{}{}
		}
	}

	if !sawRoot {
		return nil, errors.New("document has no root element")
	}

	codes := make([]string, 0, len(seen))
	for c := range seen {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes, nil
}

// =============================================================================
// ISSUER IDENTITY
// =============================================================================

// Issuer reads the document at path and returns the normalized issuer tax id
// and the cleaned issuer name.
func (x *Extractor) Issuer(path string) (taxID, name string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", faults.Wrap(err, faults.ExtractionFailure, "read issuer", path)
	}
	defer f.Close()

	taxID, name, err = x.ReadIssuer(f)
	if err != nil {
		return "", "", faults.Wrap(err, faults.ExtractionFailure, "read issuer", path)
	}
	return taxID, name, nil
}

// ReadIssuer decodes the first <emit> element of the NF-e namespace (or of no
// namespace). CNPJ is preferred; individuals issuing with a CPF fall back to it.
func (x *Extractor) ReadIssuer(r io.Reader) (string, string, error) {
	dec := newDecoder(r)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", "", errors.New("issuer block <emit> not found")
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to parse document: %w", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "emit" {
			continue
		}
		if se.Name.Space != Namespace && se.Name.Space != "" {
			continue
		}

		var emit emitter
		if err := dec.DecodeElement(&emit, &se); err != nil {
			return "", "", fmt.Errorf("failed to read <emit>: %w", err)
		}

		raw := strings.TrimSpace(emit.CNPJ)
		if raw == "" {
			raw = strings.TrimSpace(emit.CPF)
		}
		if raw == "" {
			return "", "", errors.New("issuer has no CNPJ")
		}
		if strings.TrimSpace(emit.Name) == "" {
			return "", "", errors.New("issuer has no xNome")
		}

		return NormalizeTaxID(raw), CleanName(emit.Name, x.NameLimit), nil
	}
}

func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}
