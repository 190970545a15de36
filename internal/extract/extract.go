// Package extract turns uploaded contract documents into plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
)

var (
	// ErrUnsupportedFormat is returned for extensions other than .pdf and .docx.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrMalformedDocument matches every *MalformedDocumentError.
	ErrMalformedDocument = errors.New("malformed document")
)

// MalformedDocumentError reports a document the parser for Format rejected.
type MalformedDocumentError struct {
	Format string
	Err    error
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("malformed %s document: %v", e.Format, e.Err)
}

func (e *MalformedDocumentError) Unwrap() error { return e.Err }

func (e *MalformedDocumentError) Is(target error) bool { return target == ErrMalformedDocument }

var (
	extParserOnce sync.Once
	extParser     parser.Parser
	extParserErr  error
)

func documentParser() (parser.Parser, error) {
	extParserOnce.Do(func() {
		ctx := context.Background()
		pdfParser, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: true})
		if err != nil {
			extParserErr = fmt.Errorf("init pdf parser: %w", err)
			return
		}
		extParser, extParserErr = parser.NewExtParser(ctx, &parser.ExtParserConfig{
			Parsers: map[string]parser.Parser{
				".pdf":  guarded{format: "pdf", inner: pdfParser},
				".docx": guarded{format: "docx", inner: docxParser{}},
			},
			FallbackParser: unsupportedParser{},
		})
	})
	return extParser, extParserErr
}

// Text extracts the plain text of content, choosing the parser by the
// lower-cased extension of filename. Pages and paragraphs keep document order.
func Text(ctx context.Context, content []byte, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf", ".docx":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	p, err := documentParser()
	if err != nil {
		return "", err
	}
	docs, err := p.Parse(ctx, bytes.NewReader(content), parser.WithURI("upload"+ext))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		b.WriteString(doc.Content)
	}
	return b.String(), nil
}

// guarded converts parser failures, including panics from the pdf reader,
// into MalformedDocumentError.
type guarded struct {
	format string
	inner  parser.Parser
}

func (g guarded) Parse(ctx context.Context, r io.Reader, opts ...parser.Option) (docs []*schema.Document, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			docs = nil
			err = &MalformedDocumentError{Format: g.format, Err: fmt.Errorf("%v", rec)}
		}
	}()
	docs, err = g.inner.Parse(ctx, r, opts...)
	if err != nil {
		var malformed *MalformedDocumentError
		if errors.As(err, &malformed) {
			return nil, err
		}
		return nil, &MalformedDocumentError{Format: g.format, Err: err}
	}
	return docs, nil
}

type unsupportedParser struct{}

func (unsupportedParser) Parse(context.Context, io.Reader, ...parser.Option) ([]*schema.Document, error) {
	return nil, ErrUnsupportedFormat
}
