package ocr

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"strings"
	"testing"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t600\t800\t-1\t\n" +
	"4\t1\t1\t1\t1\t0\t10\t10\t200\t12\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t60\t12\t90.5\tInvoice\n" +
	"5\t1\t1\t1\t1\t2\t80\t10\t30\t12\t89.5\t123\n" +
	"4\t1\t1\t1\t2\t0\t10\t30\t200\t12\t-1\t\n" +
	"5\t1\t1\t1\t2\t1\t10\t30\t40\t12\t80\tTotal\n" +
	"5\t1\t1\t1\t2\t2\t60\t30\t10\t12\t-1\t \n"

func TestParseTSV(t *testing.T) {
	rec := parseTSV(sampleTSV)
	if rec.Text != "Invoice 123\nTotal" {
		t.Fatalf("text = %q", rec.Text)
	}
	if math.Abs(rec.Confidence-260.0/3) > 1e-9 {
		t.Fatalf("confidence = %v", rec.Confidence)
	}
	if got := parseTSV("level\tpage_num\n"); got.Text != "" || got.Confidence != 0 {
		t.Fatalf("header only: %+v", got)
	}
}

func TestTesseractEngineRecognize(t *testing.T) {
	r := &stubRunner{fn: func(name string, args []string) ([]byte, []byte, error) {
		return []byte(sampleTSV), nil, nil
	}}
	e := NewTesseractEngine(Config{PSM: 6, TessdataDir: "/data"}, r, nil)
	rec, err := e.Recognize(context.Background(), "/tmp/p.png", []string{"ara", "eng"})
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if rec.Text == "" {
		t.Fatal("empty text")
	}
	want := "tesseract /tmp/p.png stdout -l ara+eng --psm 6 --tessdata-dir /data tsv"
	if r.calls[0] != want {
		t.Fatalf("command = %q, want %q", r.calls[0], want)
	}
}

func TestTesseractEngineErrors(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		err    error
		want   error
	}{
		{"binary missing", "", &exec.Error{Name: "tesseract", Err: exec.ErrNotFound}, common.ErrEngineUnavailable},
		{"missing traineddata", "Error opening data file /usr/share/tessdata/ara.traineddata", errors.New("exit status 1"), ErrLanguageUnavailable},
		{"failed loading", "Failed loading language 'ara'", errors.New("exit status 1"), ErrLanguageUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &stubRunner{fn: func(string, []string) ([]byte, []byte, error) {
				return nil, []byte(tt.stderr), tt.err
			}}
			_, err := NewTesseractEngine(Config{}, r, nil).Recognize(context.Background(), "x.png", []string{"ara"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	r := &stubRunner{fn: func(string, []string) ([]byte, []byte, error) {
		return nil, []byte("Image too small"), errors.New("exit status 1")
	}}
	_, err := NewTesseractEngine(Config{}, r, nil).Recognize(context.Background(), "x.png", []string{"eng"})
	if err == nil || errors.Is(err, common.ErrEngineUnavailable) || !strings.Contains(err.Error(), "Image too small") {
		t.Fatalf("generic failure: %v", err)
	}
}
