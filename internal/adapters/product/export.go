// Package product renders pkg/product rows to CSV and JSON, mirroring a
// dataset export with an audit hook rather than the domain chain itself.
package product

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"timechain/pkg/product"
)

// Column selects one member's field to project into a CSV column.
type Column struct {
	Member string
	Field  string
}

// Header returns the column's CSV header label.
func (c Column) Header() string { return c.Member + "." + c.Field }

// AuditEntry records a single export for compliance trails.
type AuditEntry struct {
	Format     string    `json:"format"`
	RowCount   int       `json:"row_count"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditLogger receives one AuditEntry per completed export.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// NoopAuditLogger discards every entry. It is the default when no
// AuditLogger is supplied.
type NoopAuditLogger struct{}

// Record implements AuditLogger by doing nothing.
func (NoopAuditLogger) Record(context.Context, AuditEntry) {}

// Exporter renders product rows for a fixed set of members and entity
// fields, notifying an AuditLogger after every export.
type Exporter struct {
	Columns []Column
	Audit   AuditLogger
	Actor   string
}

func (e *Exporter) audit() AuditLogger {
	if e.Audit == nil {
		return NoopAuditLogger{}
	}
	return e.Audit
}

// CSV writes rows as a CSV document: a "moment" column followed by one
// column per configured Column, in order. Entities that are not
// map[string]any, or that lack a configured field, render an empty cell.
func (e *Exporter) CSV(ctx context.Context, rows []product.Row[map[string]any]) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)

	headers := make([]string, 0, len(e.Columns)+1)
	headers = append(headers, "moment")
	for _, col := range e.Columns {
		headers = append(headers, col.Header())
	}
	if err := w.Write(headers); err != nil {
		return nil, fmt.Errorf("product: write csv header: %w", err)
	}

	for _, row := range rows {
		record := make([]string, 0, len(e.Columns)+1)
		record = append(record, row.Moment.UTC().Format(time.RFC3339Nano))
		for _, col := range e.Columns {
			record = append(record, formatField(row, col))
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("product: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	e.audit().Record(ctx, AuditEntry{Format: "csv", RowCount: len(rows), Actor: e.Actor, OccurredAt: time.Now().UTC()})
	return buf.Bytes(), nil
}

// JSON writes rows as a JSON array, one object per row with "moment" and
// "values" keys; values is the full product.Row.Values map, unfiltered by
// Columns.
func (e *Exporter) JSON(ctx context.Context, rows []product.Row[map[string]any]) ([]byte, error) {
	type wireRow struct {
		Moment time.Time      `json:"moment"`
		Values map[string]any `json:"values"`
	}
	wire := make([]wireRow, len(rows))
	for i, row := range rows {
		values := make(map[string]any, len(row.Values))
		for name, rec := range row.Values {
			values[name] = rec.Entity
		}
		wire[i] = wireRow{Moment: row.Moment, Values: values}
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("product: marshal json: %w", err)
	}
	e.audit().Record(ctx, AuditEntry{Format: "json", RowCount: len(rows), Actor: e.Actor, OccurredAt: time.Now().UTC()})
	return payload, nil
}

func formatField(row product.Row[map[string]any], col Column) string {
	rec, ok := row.Values[col.Member]
	if !ok {
		return ""
	}
	value, ok := rec.Entity[col.Field]
	if !ok {
		return ""
	}
	return formatValue(value)
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
