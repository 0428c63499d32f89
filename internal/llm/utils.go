package llm

import (
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

// ShouldAttachImage reports whether the page image should go to the model
// alongside the text, and returns it as a data URL.
func ShouldAttachImage(req ExtractRequest) (attach bool, dataURL, mimeType string) {
	if req.ImagePath == "" || req.Confidence >= constants.ImageConfidenceThreshold {
		return false, "", ""
	}
	if constants.FormatFor("", req.ImagePath) != constants.IMAGE || constants.IsHEICExt(filepath.Ext(req.ImagePath)) {
		return false, "", ""
	}

	st, err := os.Stat(req.ImagePath)
	if err != nil || st.IsDir() || st.Size() > constants.MaxVisionBytes {
		return false, "", ""
	}

	u, mt, err := readAsDataURL(req.ImagePath)
	if err != nil {
		return false, "", ""
	}
	return true, u, mt
}

func readAsDataURL(path string) (string, string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	mt := constants.MIMEFor(path)
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(b), mt, nil
}
