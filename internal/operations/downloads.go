package operations

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// DownloadResult points at the stored document.
type DownloadResult struct {
	DocumentNumber string `json:"documentNumber"`
	DocType        string `json:"docType"`
	File           string `json:"file"`
	SizeBytes      int    `json:"sizeBytes"`
}

type downloads struct {
	runner RunnerClient
	dir    string
}

// DDT fetches a transport-document PDF.
func (d *downloads) DDT(ctx domain.Context, inv *domain.Invocation) (any, error) {
	return d.fetch(ctx, inv, "ddt")
}

// Invoice fetches an invoice PDF.
func (d *downloads) Invoice(ctx domain.Context, inv *domain.Invocation) (any, error) {
	return d.fetch(ctx, inv, "invoice")
}

func (d *downloads) fetch(ctx domain.Context, inv *domain.Invocation, docType string) (any, error) {
	tracer := otel.Tracer("operations.downloads")
	ctx, span := tracer.Start(ctx, "operations.DownloadPDF")
	defer span.End()

	var p DownloadPayload
	if err := decode(inv.Data, &p); err != nil {
		return nil, err
	}

	inv.Progress(10, "Recupero documento da Archibald")
	data, err := d.runner.FetchPDF(ctx, inv.Browser.SessionID(), docType, p.DocumentNumber)
	if err != nil {
		return nil, fmt.Errorf("op=operations.download_%s: %w", docType, err)
	}

	// The ERP serves an HTML error page with a 200 when the document does
	// not exist; sniff the bytes instead of trusting the response.
	if mt := mimetype.Detect(data); !mt.Is("application/pdf") {
		return nil, fmt.Errorf("op=operations.download_%s: document %s is %s, not a PDF: %w",
			docType, p.DocumentNumber, mt.String(), domain.ErrInternal)
	}

	inv.Progress(70, "Salvataggio documento")
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, fmt.Errorf("op=operations.download_%s: %w", docType, err)
	}
	path := filepath.Join(d.dir, fmt.Sprintf("%s-%s.pdf", docType, safeFileName(p.DocumentNumber)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("op=operations.download_%s: %w", docType, err)
	}

	inv.Progress(100, "Documento scaricato")
	return DownloadResult{
		DocumentNumber: p.DocumentNumber,
		DocType:        docType,
		File:           path,
		SizeBytes:      len(data),
	}, nil
}

// safeFileName keeps document numbers filesystem-safe: anything outside
// [A-Za-z0-9._-] becomes an underscore.
func safeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
