// Package bundle reconstructs an incident's history from persisted spans
// and artifacts and packages it as a signed, checksummed zip archive.
//
// Archive layout, in entry order:
//
//	manifest.json        canonical {incident, spans, generated_at}
//	artifacts/<digest>   raw bytes of every referenced artifact still stored
//	checksums.json       canonical {manifest, artifacts}
//	signatures/key.sig   hex SHA-256 of manifest ‖ checksums ‖ secret
//
// A referenced artifact that is no longer stored has no artifacts/ entry
// but stays listed in checksums.json. Verify reports it as a gap.
package bundle
