package persistence

// GlossarySummary describes one stored glossary.
type GlossarySummary struct {
	Ref     string `json:"ref"`
	Entries int    `json:"entries"`
}
