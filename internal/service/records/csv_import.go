package records

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ignite/campaign-mailer/internal/docstore"
	"github.com/ignite/campaign-mailer/internal/domain"
)

// ImportResult summarises a CSV import.
type ImportResult struct {
	Inserted   int    `json:"inserted"`
	Batches    int    `json:"batches"`
	ArchiveKey string `json:"archiveKey,omitempty"`
}

// CSVError reports malformed CSV input.
type CSVError struct {
	Line int
	Err  error
}

func (e *CSVError) Error() string {
	return fmt.Sprintf("Invalid CSV format: line %d: %v", e.Line, e.Err)
}

func (e *CSVError) Unwrap() []error { return []error{domain.ErrValidation, e.Err} }

// ImportCSV parses a header CSV and stores one investor per row. listID is
// stored on every row unless the row has its own listId column. Rows are
// written in batches of the store's MaxBatchSize. When an archiver is
// configured the raw file is archived first; a failed archive is logged and
// does not stop the import.
func (s *Service) ImportCSV(ctx context.Context, listID, filename string, r io.Reader) (*ImportResult, error) {
	if listID == "" {
		return nil, domain.Required(domain.FieldListID)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}

	rows, err := parseCSV(raw)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{}
	if s.archiver != nil {
		key, err := s.archiver.Archive(ctx, listID, filename, bytes.NewReader(raw), int64(len(raw)))
		if err != nil {
			s.log.Warn("csv archive failed", "list_id", listID, "error", err)
		}
		res.ArchiveKey = key
	}

	w := docstore.NewBatchWriter(s.store)
	for _, row := range rows {
		doc := make(map[string]any, len(row)+1)
		doc[domain.FieldListID] = listID
		for k, v := range row {
			doc[k] = v
		}
		if err := w.Set(ctx, domain.CollectionInvestors, docstore.NewID(), doc); err != nil {
			return nil, fmt.Errorf("%w: importing csv: %w", domain.ErrUpstream, err)
		}
	}
	if err := w.Flush(ctx); err != nil {
		return nil, fmt.Errorf("%w: importing csv: %w", domain.ErrUpstream, err)
	}
	res.Inserted = w.Committed()
	res.Batches = w.Batches()

	s.log.Info("csv imported", "list_id", listID, "rows", res.Inserted, "batches", res.Batches)
	return res, nil
}

// parseCSV reads a header row and maps every following row onto it. Blank
// lines are skipped; a row whose width differs from the header is an error.
func parseCSV(raw []byte) ([]map[string]string, error) {
	cr := csv.NewReader(bytes.NewReader(raw))
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &CSVError{Line: 1, Err: errors.New("missing header row")}
	}
	if err != nil {
		return nil, csvErr(err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvErr(err)
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			row[h] = rec[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func csvErr(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &CSVError{Line: pe.Line, Err: pe.Err}
	}
	return &CSVError{Err: err}
}
