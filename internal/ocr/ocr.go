// Package ocr acquires text from documents: the embedded text layer,
// rasterization, the local recognition engine and the orientation/language
// search that drives it.
package ocr

import (
	"strings"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Magick    string // ImageMagick 7 binary; if empty -> "magick"

	PrimaryLang   string // default "ara"
	SecondaryLang string // default "eng"
	TessdataDir   string

	DPIs     []int // resolution sweep, default 300, 200, 400
	MaxPages int   // 0 = no limit

	PSM int // page segmentation mode passed to tesseract; 0 keeps its default
	OEM int // 1 = LSTM; leave 0 to use default

	MaxPageWorkers       int     // concurrent pages, default 4
	AcceptConfidence     float64 // resolver escalation/DPI floor, default 50
	EarlyStopConfidence  float64 // local retry loop stop, default 70
	GridAcceptConfidence float64 // orientation grid early exit, default 90
	MaxAttempts          int     // local retry attempts, default 3
}

func (c Config) withDefaults() Config {
	if c.Pdftotext == "" {
		c.Pdftotext = "pdftotext"
	}
	if c.Pdftoppm == "" {
		c.Pdftoppm = "pdftoppm"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.Magick == "" {
		c.Magick = "magick"
	}
	if c.PrimaryLang == "" {
		c.PrimaryLang = "ara"
	}
	if c.SecondaryLang == "" {
		c.SecondaryLang = "eng"
	}
	if len(c.DPIs) == 0 {
		c.DPIs = []int{300, 200, 400}
	}
	if c.MaxPageWorkers <= 0 {
		c.MaxPageWorkers = 4
	}
	if c.AcceptConfidence <= 0 {
		c.AcceptConfidence = 50
	}
	if c.EarlyStopConfidence <= 0 {
		c.EarlyStopConfidence = 70
	}
	if c.GridAcceptConfidence <= 0 {
		c.GridAcceptConfidence = 90
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// LanguageSets returns the hint sets tried per orientation, dual first.
func (c Config) LanguageSets() [][]string {
	c = c.withDefaults()
	if c.PrimaryLang == c.SecondaryLang {
		return [][]string{{c.PrimaryLang}}
	}
	return [][]string{
		{c.PrimaryLang, c.SecondaryLang},
		{c.PrimaryLang},
		{c.SecondaryLang},
	}
}

// langKey renders a hint set the way tesseract expects it ("ara+eng").
func langKey(langs []string) string {
	return strings.Join(langs, "+")
}
