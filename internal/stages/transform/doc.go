// Package transform provides transform stages.
//
// Documents turns stages.File records into stages.Document records: the
// content type is sniffed, text is decoded to UTF-8 and stripped of markup,
// and a BLAKE2b digest is computed over the raw bytes.
//
// Script runs a JavaScript function over every record. Each worker compiles
// its own VM in the start hook, since a goja runtime must not be shared.
package transform
