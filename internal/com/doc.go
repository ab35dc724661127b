// Package com builds the Canonical Order Model: one provenance-annotated
// view of an order fused from the 850, 856, ERP and carrier feeds.
//
// Each semantic field is resolved by an ordered list of rules. A rule is a
// pure function over the parsed sources that either yields a value with its
// locators or reports absence; the first rule that yields wins. Every
// populated field therefore carries at least one provenance entry naming
// the source system, the digest of the exact source payload, and where in
// that payload the value was found.
package com
