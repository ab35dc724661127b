// Package narrative renders the root-cause summary and message drafts for
// an order and redacts personal data from free text.
//
// Output is a pure function of its inputs: the confidence figure comes from
// a PRNG reseeded on every call, and drafts come from fixed templates.
package narrative
