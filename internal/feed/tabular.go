package feed

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoOrderColumn is returned when no header matches an order id alias.
var ErrNoOrderColumn = errors.New("no order id column")

// Field is a semantic column the COM builder understands.
type Field string

const (
	FieldOrderID              Field = "order_id"
	FieldCustomerName         Field = "customer_name"
	FieldExpectedShipDate     Field = "expected_ship_date"
	FieldExpectedDeliveryDate Field = "expected_delivery_date"
	FieldCarrierETA           Field = "carrier_eta"
)

// fieldOrder fixes the order in which fields claim header columns.
var fieldOrder = []Field{
	FieldOrderID,
	FieldCustomerName,
	FieldExpectedShipDate,
	FieldExpectedDeliveryDate,
	FieldCarrierETA,
}

// Aliases lists accepted header names per field, most specific first.
type Aliases map[Field][]string

// DefaultAliases covers the header variations seen in ERP and carrier
// exports.
var DefaultAliases = Aliases{
	FieldOrderID:              {"order_id", "po_number", "po_num", "purchase_order", "order_number", "id"},
	FieldCustomerName:         {"customer_name", "customer", "client_name", "client", "buyer"},
	FieldExpectedShipDate:     {"expected_ship_date", "requested_ship_date", "ship_date"},
	FieldExpectedDeliveryDate: {"expected_delivery_date", "requested_delivery_date", "delivery_date"},
	FieldCarrierETA:           {"carrier_eta", "eta", "estimated_time", "delivery_time", "arrival_time", "expected_time"},
}

// Table is a CSV extract keyed by order id.
type Table struct {
	Header  []string
	columns map[Field]string
	rows    map[string]map[string]string
	orders  []string
}

// ParseTable reads CSV bytes, resolves semantic columns by header name and
// indexes rows by order id. When an order id repeats, the last row wins.
func ParseTable(data []byte, aliases Aliases) (*Table, error) {
	if aliases == nil {
		aliases = DefaultAliases
	}
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("parse table: %w: empty input", ErrNoOrderColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("parse table header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := &Table{
		Header:  header,
		columns: resolveColumns(header, aliases),
		rows:    make(map[string]map[string]string),
	}
	orderCol, ok := t.columns[FieldOrderID]
	if !ok {
		return nil, fmt.Errorf("parse table: %w among %v", ErrNoOrderColumn, header)
	}

	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse table line %d: %w", line, err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			}
		}
		id := row[orderCol]
		if id == "" {
			continue
		}
		if _, seen := t.rows[id]; !seen {
			t.orders = append(t.orders, id)
		}
		t.rows[id] = row
	}
	return t, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

func resolveColumns(header []string, aliases Aliases) map[Field]string {
	byName := make(map[string]string, len(header))
	for _, h := range header {
		n := normalizeHeader(h)
		if _, dup := byName[n]; !dup && h != "" {
			byName[n] = h
		}
	}

	claimed := make(map[string]bool)
	columns := make(map[Field]string)
	for _, f := range fieldOrder {
		for _, alias := range aliases[f] {
			col, ok := byName[alias]
			if ok && !claimed[col] {
				columns[f] = col
				claimed[col] = true
				break
			}
		}
	}
	return columns
}

// Column returns the header that was matched to field.
func (t *Table) Column(f Field) (string, bool) {
	col, ok := t.columns[f]
	return col, ok
}

// Has reports whether the table has a row for orderID.
func (t *Table) Has(orderID string) bool {
	_, ok := t.rows[orderID]
	return ok
}

// Lookup returns the value of field for orderID and the header it came from.
// ok is false when the row, the column or the value is missing.
func (t *Table) Lookup(orderID string, f Field) (value, column string, ok bool) {
	if t == nil {
		return "", "", false
	}
	row, found := t.rows[orderID]
	if !found {
		return "", "", false
	}
	col, found := t.columns[f]
	if !found {
		return "", "", false
	}
	value = row[col]
	return value, col, value != ""
}

// OrderIDs returns the order ids in first-seen order.
func (t *Table) OrderIDs() []string {
	return append([]string(nil), t.orders...)
}

// Len returns the number of distinct orders.
func (t *Table) Len() int {
	return len(t.rows)
}
