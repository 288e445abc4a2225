// Package units owns the child-unit data model.
//
// Ownership boundary:
// - unit, principal, and cycle value types
// - unit settings and controller canonicalization
// - install records and application state payloads
//
// Units does not perform remote calls.
package units
