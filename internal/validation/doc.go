// Package validation holds import-boundary guard tests that run as part
// of the normal test suite rather than a separate lint step.
package validation
