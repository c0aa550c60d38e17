// Package source provides source stages. A source runs entirely inside its
// start hook and returns once everything has been sent.
package source
