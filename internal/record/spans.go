package record

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/provtrail/internal/trace"
)

var _ trace.SpanStore = (*Store)(nil)

// AppendSpan appends a span. Both digests must already have artifact rows;
// a violation is trace.ErrUnknownDigest.
func (s *Store) AppendSpan(ctx context.Context, span trace.Span) error {
	attrs, err := marshalObject(span.Attributes)
	if err != nil {
		return fmt.Errorf("append span %s: %w", span.SpanID, err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO spans
		(span_id, parent_id, tool, start_ts, end_ts, args_digest, result_digest, attributes, order_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		span.SpanID,
		nullString(span.ParentID),
		span.Tool,
		span.StartTs,
		span.EndTs,
		span.ArgsDigest,
		span.ResultDigest,
		attrs,
		span.OrderID,
		formatTime(span.CreatedAt),
	)
	switch {
	case err == nil:
		return nil
	case isForeignKeyViolation(err):
		return &trace.Error{
			Code:    trace.ErrCodeUnknownDigest,
			Message: "span references a digest with no artifact row",
			Tool:    span.Tool,
			Key:     span.ArgsDigest + "," + span.ResultDigest,
			Err:     err,
		}
	case isUniqueViolation(err):
		return fmt.Errorf("append span %s: %w", span.SpanID, ErrDuplicate)
	default:
		return fmt.Errorf("append span %s: %w", span.SpanID, err)
	}
}

// SpansByOrder returns an order's spans ordered by start_ts, end_ts, then
// insertion. Returns an empty slice (not nil) when there are none.
func (s *Store) SpansByOrder(ctx context.Context, orderID string) ([]trace.Span, error) {
	rows, err := s.query(ctx, `
		SELECT span_id, parent_id, tool, start_ts, end_ts, args_digest, result_digest, attributes, order_id, created_at
		FROM spans
		WHERE order_id = ?
		ORDER BY start_ts ASC, end_ts ASC, seq ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query spans: %w", err)
	}
	defer rows.Close()

	spans := []trace.Span{}
	for rows.Next() {
		span, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		spans = append(spans, span)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spans: %w", err)
	}
	return spans, nil
}

// OrderIDs lists every order with at least one span.
func (s *Store) OrderIDs(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT order_id FROM spans ORDER BY order_id`)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return ids, nil
}

func scanSpan(rows *sql.Rows) (trace.Span, error) {
	var (
		span      trace.Span
		parentID  sql.NullString
		attrs     string
		createdAt string
	)
	err := rows.Scan(&span.SpanID, &parentID, &span.Tool, &span.StartTs, &span.EndTs,
		&span.ArgsDigest, &span.ResultDigest, &attrs, &span.OrderID, &createdAt)
	if err != nil {
		return trace.Span{}, fmt.Errorf("scan span: %w", err)
	}
	span.ParentID = parentID.String
	if span.Attributes, err = unmarshalObject[any](attrs); err != nil {
		return trace.Span{}, fmt.Errorf("span %s: %w", span.SpanID, err)
	}
	if span.CreatedAt, err = parseTime(createdAt); err != nil {
		return trace.Span{}, fmt.Errorf("span %s: %w", span.SpanID, err)
	}
	return span, nil
}
