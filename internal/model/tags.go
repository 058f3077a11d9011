package model

import "strings"

// CSVTagSeparator delimits tags in EventRow.Tags for TagModeCSV. A leading
// and trailing separator is always present so a LIKE '%;tag;%' query can't
// match a tag that is merely a substring of another (e.g. "order" matching
// stored "suborder").
const CSVTagSeparator = ";"

// EncodeCSVTags joins tags into the delimited form stored in
// journal_row.tags under TagModeCSV. An empty slice encodes to "".
func EncodeCSVTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return CSVTagSeparator + strings.Join(tags, CSVTagSeparator) + CSVTagSeparator
}

// DecodeCSVTags splits a journal_row.tags value back into its tags.
func DecodeCSVTags(encoded string) []string {
	if encoded == "" {
		return nil
	}
	trimmed := strings.Trim(encoded, CSVTagSeparator)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, CSVTagSeparator)
}

// HasTagCSV reports whether tag is present in an encoded CSV tag value,
// re-checking the LIKE '%;tag;%' database hit against an exact delimited
// match — the query can still admit a false positive when tag contains a
// LIKE wildcard ('%' or '_'), so callers must re-verify before including a
// row in query results (spec.md §4.6). A tag that itself contains the
// separator character is matched here exactly as the LIKE matches it.
func HasTagCSV(encoded, tag string) bool {
	return strings.Contains(encoded, CSVTagSeparator+tag+CSVTagSeparator)
}
