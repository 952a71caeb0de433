package enrich

// MergeFields applies the non-destructive merge rules for user-owned columns.
// The title is replaced only when it is empty or still equal to the raw URL;
// the description only when it is empty.
func MergeFields(current Fields, pageURL string, md Metadata) Fields {
	merged := current
	if md.Title != "" && (current.Title == "" || current.Title == pageURL) {
		merged.Title = md.Title
	}
	if md.Description != "" && current.Description == "" {
		merged.Description = md.Description
	}
	return merged
}
