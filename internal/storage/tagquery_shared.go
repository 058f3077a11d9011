package storage

import "github.com/arcflow-db/eventjournal/internal/model"

// csvNeedle builds the LIKE needle for a single tag under TagModeCSV. The
// database match is necessarily a substring match (no index can express
// "delimited containment" directly), so callers of FetchByTagCSV must
// re-verify each candidate row with model.HasTagCSV before trusting it —
// this function only narrows the scan.
func csvNeedle(tag string) string {
	return model.CSVTagSeparator + tag + model.CSVTagSeparator
}
