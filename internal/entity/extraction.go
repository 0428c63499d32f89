package entity

// OCRAttempt is a single recognition trial.
type OCRAttempt struct {
	Engine     string  `json:"engine"`
	Language   string  `json:"language"`
	Rotation   int     `json:"rotation"`
	DPI        int     `json:"dpi"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// PageDetail describes the winning attempt for one page.
type PageDetail struct {
	Page        int     `json:"page"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	Orientation int     `json:"orientation"`
	Language    string  `json:"language"`
	DPI         int     `json:"dpi,omitempty"`
	Engine      string  `json:"engine,omitempty"`
}

// ExtractionResult is the terminal output of text acquisition.
type ExtractionResult struct {
	Text        string       `json:"text"`
	Confidence  float64      `json:"confidence"`
	Pages       int          `json:"pages"`
	IsArabic    bool         `json:"isArabic"`
	Method      string       `json:"method"`
	PageDetails []PageDetail `json:"pageDetails"`
	Warnings    []string     `json:"warnings,omitempty"`
}

// ClampConfidence bounds c to [0,100].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0 || c != c:
		return 0
	case c > 100:
		return 100
	}
	return c
}
