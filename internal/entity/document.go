package entity

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

// Document is the pipeline input. It is never mutated after construction.
type Document struct {
	Content  []byte `json:"-"`
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
}

// Format returns constants.PDF, constants.IMAGE, constants.TXT or "".
func (d Document) Format() string {
	return constants.FormatFor(d.MIMEType, d.Filename)
}

// ContentHash is the hex sha256 of the document bytes.
func (d Document) ContentHash() string {
	sum := sha256.Sum256(d.Content)
	return hex.EncodeToString(sum[:])
}
