package enrich

import (
	"time"

	"github.com/poucher/metadata-worker/internal/extract"
)

// Meta keys consulted by Project.
const (
	metaOGTitle       = "og:title"
	metaOGDescription = "og:description"
	metaOGImage       = "og:image"
	metaOGSiteName    = "og:site_name"
	metaOGURL         = "og:url"
	metaDescription   = "description"
)

// Project turns an extraction into the stored record. Open Graph values win
// over generic HTML; favicon, image and canonical are resolved against pageURL.
// ogUrl is kept verbatim.
func Project(pageURL string, ex extract.Extraction, fetchedAt time.Time) Metadata {
	ogURL := ex.Meta[metaOGURL]
	canonical := firstNonEmpty(ex.Links[extract.RelCanonical], ogURL)

	return Metadata{
		Title:        firstNonEmpty(ex.Meta[metaOGTitle], ex.Title),
		Description:  firstNonEmpty(ex.Meta[metaOGDescription], ex.Meta[metaDescription]),
		Image:        Resolve(pageURL, ex.Meta[metaOGImage]),
		SiteName:     ex.Meta[metaOGSiteName],
		CanonicalURL: Resolve(pageURL, canonical),
		OGURL:        ogURL,
		Favicon:      Resolve(pageURL, ex.Links[extract.RelIcon]),
		FetchedAt:    fetchedAt.UTC(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
