// Package extract turns PDF and DOCX payloads into plain text for indexing.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeZip  = "application/zip"

	docxBodyPart = "word/document.xml"
)

// ErrUnsupported is returned for payloads with no text extractor.
var ErrUnsupported = errors.New("unsupported mime type")

type format struct {
	mime    string
	ext     string
	extract func(data []byte) (string, error)
}

var formats = []format{
	{mime: mimePDF, ext: ".pdf", extract: pdfText},
	{mime: mimeDOCX, ext: ".docx", extract: docxText},
}

// IsExtractable reports whether the declared type or file name maps to a
// known format. Callers use it to skip blob reads for binary attachments.
func IsExtractable(mimeType, fileName string) bool {
	_, ok := lookup(mimeType, fileName, nil)
	return ok
}

// IsPDF reports whether the declared type or file name denote a PDF.
func IsPDF(mimeType, fileName string) bool {
	f, ok := lookup(mimeType, fileName, nil)
	return ok && f.mime == mimePDF
}

// ExtractTextFromBytes extracts text from an in-memory payload. A zip upload
// is sniffed for a DOCX body before falling back to the file extension.
func ExtractTextFromBytes(ctx context.Context, data []byte, mimeType, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, ok := lookup(mimeType, fileName, data)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, baseMime(mimeType))
	}
	return f.extract(data)
}

func lookup(mimeType, fileName string, data []byte) (format, bool) {
	declared := baseMime(mimeType)
	ext := strings.ToLower(filepath.Ext(fileName))
	switch declared {
	case "", "application/octet-stream":
		return byExt(ext)
	case mimeZip:
		if len(data) > 0 {
			if hasZipPart(data, docxBodyPart) {
				return byMime(mimeDOCX)
			}
			return format{}, false
		}
		if ext == ".docx" {
			return byMime(mimeDOCX)
		}
		return format{}, false
	default:
		return byMime(declared)
	}
}

func byMime(m string) (format, bool) {
	for _, f := range formats {
		if f.mime == m {
			return f, true
		}
	}
	return format{}, false
}

func byExt(ext string) (format, bool) {
	for _, f := range formats {
		if f.ext == ext {
			return f, true
		}
	}
	return format{}, false
}

func baseMime(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// pdfText recovers from parser panics on malformed input.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("parse pdf: %v", rec)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func docxText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty docx payload")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	part := findZipPart(zr, docxBodyPart)
	if part == nil {
		return "", fmt.Errorf("docx has no %s", docxBodyPart)
	}
	rc, err := part.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", docxBodyPart, err)
	}
	defer rc.Close()
	return paragraphs(rc)
}

// paragraphs concatenates character data, breaking lines at w:p and w:br.
func paragraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			if (t.Name.Local == "p" || t.Name.Local == "br") && sb.Len() > 0 {
				sb.WriteByte('\n')
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func hasZipPart(data []byte, name string) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	return findZipPart(zr, name) != nil
}

func findZipPart(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == name {
			return f
		}
	}
	return nil
}
