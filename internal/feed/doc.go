// Package feed parses the raw source payloads: X12 segment files (850
// purchase orders, 856 ship notices) and ERP/carrier CSV extracts.
//
// Parsing is lenient. Envelope and unknown segments are skipped, ragged
// CSV rows are tolerated, and rows without an order id are dropped. Only a
// table with no recognizable order id column is an error.
package feed
