package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/roach88/provtrail/internal/incident"
	"github.com/roach88/provtrail/internal/trace"
)

var (
	_ incident.Store      = (*Store)(nil)
	_ trace.OrderResolver = (*Store)(nil)
)

const incidentColumns = `incident_id, order_id, incident_type, severity, status, eta_delta_hours, description, created_at, resolved_at, metadata`

// CreateIncident inserts a new incident. A duplicate id is ErrDuplicate.
func (s *Store) CreateIncident(ctx context.Context, inc incident.Incident) error {
	metadata, err := marshalObject(inc.Metadata)
	if err != nil {
		return fmt.Errorf("create incident %s: %w", inc.IncidentID, err)
	}
	var delta sql.NullFloat64
	if inc.EtaDeltaHours != nil {
		delta = sql.NullFloat64{Float64: *inc.EtaDeltaHours, Valid: true}
	}
	var resolvedAt sql.NullString
	if inc.ResolvedAt != nil {
		resolvedAt = sql.NullString{String: formatTime(*inc.ResolvedAt), Valid: true}
	}
	_, err = s.exec(ctx, `
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inc.IncidentID,
		inc.OrderID,
		string(inc.Type),
		inc.Severity,
		string(inc.Status),
		delta,
		inc.Description,
		formatTime(inc.CreatedAt),
		resolvedAt,
		metadata,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create incident %s: %w", inc.IncidentID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create incident %s: %w", inc.IncidentID, err)
	}
	return nil
}

// GetIncident returns an incident or incident.ErrIncidentNotFound.
func (s *Store) GetIncident(ctx context.Context, incidentID string) (incident.Incident, error) {
	rows, err := s.query(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE incident_id = ?`, incidentID)
	if err != nil {
		return incident.Incident{}, fmt.Errorf("get incident %s: %w", incidentID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return incident.Incident{}, fmt.Errorf("get incident %s: %w", incidentID, err)
		}
		return incident.Incident{}, fmt.Errorf("%w: %s", incident.ErrIncidentNotFound, incidentID)
	}
	return scanIncident(rows)
}

// ResolveIncident moves an open incident to resolved. It reports false
// when the incident was already resolved.
func (s *Store) ResolveIncident(ctx context.Context, incidentID string, at time.Time) (bool, error) {
	res, err := s.exec(ctx, `
		UPDATE incidents
		SET status = ?, resolved_at = ?
		WHERE incident_id = ? AND status = ?
	`, string(incident.StatusResolved), formatTime(at), incidentID, string(incident.StatusOpen))
	if err != nil {
		return false, fmt.Errorf("resolve incident %s: %w", incidentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve incident %s: %w", incidentID, err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetIncident(ctx, incidentID); err != nil {
		return false, err
	}
	return false, nil
}

// ReopenIncident moves a resolved incident back to open and clears its
// resolution time.
func (s *Store) ReopenIncident(ctx context.Context, incidentID string) error {
	res, err := s.exec(ctx, `
		UPDATE incidents
		SET status = ?, resolved_at = NULL
		WHERE incident_id = ?
	`, string(incident.StatusOpen), incidentID)
	if err != nil {
		return fmt.Errorf("reopen incident %s: %w", incidentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reopen incident %s: %w", incidentID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", incident.ErrIncidentNotFound, incidentID)
	}
	return nil
}

// ListIncidents returns incidents matching f, newest first.
func (s *Store) ListIncidents(ctx context.Context, f incident.Filter) ([]incident.Incident, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value != "" {
			where = append(where, column+" = ?")
			args = append(args, value)
		}
	}
	add("status", string(f.Status))
	add("incident_type", string(f.Type))
	add("severity", f.Severity)
	add("order_id", f.OrderID)

	q := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, incident_id ASC`
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = math.MaxInt32
		}
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, max(f.Offset, 0))
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	incs := []incident.Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incs = append(incs, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}
	return incs, nil
}

// OrderForIncident resolves an incident id to its order id.
func (s *Store) OrderForIncident(ctx context.Context, incidentID string) (string, error) {
	var orderID string
	err := s.queryRow(ctx, `SELECT order_id FROM incidents WHERE incident_id = ?`, incidentID).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", incident.ErrIncidentNotFound, incidentID)
	}
	if err != nil {
		return "", fmt.Errorf("order for incident %s: %w", incidentID, err)
	}
	return orderID, nil
}

func scanIncident(rows *sql.Rows) (incident.Incident, error) {
	var (
		inc        incident.Incident
		typ        string
		status     string
		delta      sql.NullFloat64
		createdAt  string
		resolvedAt sql.NullString
		metadata   string
	)
	err := rows.Scan(&inc.IncidentID, &inc.OrderID, &typ, &inc.Severity, &status, &delta,
		&inc.Description, &createdAt, &resolvedAt, &metadata)
	if err != nil {
		return incident.Incident{}, fmt.Errorf("scan incident: %w", err)
	}
	inc.Type = incident.Type(typ)
	inc.Status = incident.Status(status)
	if delta.Valid {
		d := delta.Float64
		inc.EtaDeltaHours = &d
	}
	if inc.CreatedAt, err = parseTime(createdAt); err != nil {
		return incident.Incident{}, fmt.Errorf("incident %s: %w", inc.IncidentID, err)
	}
	if inc.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return incident.Incident{}, fmt.Errorf("incident %s: %w", inc.IncidentID, err)
	}
	if inc.Metadata, err = unmarshalObject[any](metadata); err != nil {
		return incident.Incident{}, fmt.Errorf("incident %s: %w", inc.IncidentID, err)
	}
	return inc, nil
}
