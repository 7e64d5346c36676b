package tesseract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"prospector/internal/config"
	"prospector/internal/domain"
	"prospector/internal/port"
	"prospector/internal/recognizer"
)

// minPDFTextChars is the text layer size below which a PDF is treated as a scan.
const minPDFTextChars = 32

var extensions = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/tiff":      ".tif",
}

// Engine recognizes text with poppler (pdftotext, pdftoppm) and tesseract.
type Engine struct {
	cfg    config.RecognitionConfig
	runner Runner
	log    logrus.FieldLogger
}

// New creates an Engine that executes the configured binaries.
func New(cfg config.RecognitionConfig, log logrus.FieldLogger) *Engine {
	return NewWithRunner(cfg, ExecRunner{Log: log}, log)
}

// NewWithRunner creates an Engine with a custom command runner (for testing).
func NewWithRunner(cfg config.RecognitionConfig, runner Runner, log logrus.FieldLogger) *Engine {
	if cfg.TesseractPath == "" {
		cfg.TesseractPath = "tesseract"
	}
	if cfg.PdftotextPath == "" {
		cfg.PdftotextPath = "pdftotext"
	}
	if cfg.PdftoppmPath == "" {
		cfg.PdftoppmPath = "pdftoppm"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Engine{cfg: cfg, runner: runner, log: log}
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Supports(contentType string) bool {
	_, ok := extensions[contentType]
	return ok
}

func (e *Engine) Recognize(ctx context.Context, doc recognizer.Document) (*port.RecognitionOutput, error) {
	tmpDir, err := os.MkdirTemp("", "prospector-ocr-*")
	if err != nil {
		return nil, domain.NewRecognitionError(domain.KindTransient, fmt.Errorf("creating temp dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.log.WithError(err).Warn("tesseract.Recognize: failed to remove temp dir")
		}
	}()

	path := filepath.Join(tmpDir, "input"+extensions[doc.ContentType])
	if err := os.WriteFile(path, doc.Body, 0o600); err != nil {
		return nil, domain.NewRecognitionError(domain.KindTransient, fmt.Errorf("writing temp file: %w", err))
	}

	if doc.ContentType == "application/pdf" {
		return e.recognizePDF(ctx, path, tmpDir)
	}

	text, err := e.ocr(ctx, path)
	if err != nil {
		return nil, err
	}
	text = recognizer.Normalize(text)
	return &port.RecognitionOutput{
		Text:       text,
		Confidence: recognizer.HeuristicConfidence(text),
		Pages:      1,
		Method:     "image-ocr",
		Engine:     e.Name(),
	}, nil
}

func (e *Engine) recognizePDF(ctx context.Context, path, tmpDir string) (*port.RecognitionOutput, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.PdftotextPath, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return nil, classify(ctx, "pdftotext", err, errb)
	}
	text := recognizer.Normalize(string(out))
	if len(strings.TrimSpace(text)) >= minPDFTextChars {
		return &port.RecognitionOutput{
			Text:       text,
			Confidence: recognizer.HeuristicConfidence(text),
			Pages:      1 + strings.Count(string(out), "\f"),
			Method:     "pdf-text",
			Engine:     e.Name(),
		}, nil
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err = e.runner.Run(ctx, e.cfg.PdftoppmPath, "-r", strconv.Itoa(e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return nil, classify(ctx, "pdftoppm", err, errb)
	}
	pages, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(pages)
	if len(pages) == 0 {
		return nil, domain.NewRecognitionError(domain.KindPermanent, errors.New("pdftoppm produced no images"))
	}

	var b strings.Builder
	for _, img := range pages {
		txt, err := e.ocr(ctx, img)
		if err != nil {
			return nil, err
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n")
		}
		b.WriteString(txt)
	}
	text = recognizer.Normalize(b.String())
	return &port.RecognitionOutput{
		Text:       text,
		Confidence: recognizer.HeuristicConfidence(text),
		Pages:      len(pages),
		Method:     "pdf-ocr",
		Engine:     e.Name(),
	}, nil
}

func (e *Engine) ocr(ctx context.Context, path string) (string, error) {
	// tesseract <file> stdout -l <lang> [--psm N]
	args := []string{path, "stdout", "-l", e.cfg.Language}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	out, errb, err := e.runner.Run(ctx, e.cfg.TesseractPath, args...)
	if err != nil {
		return "", classify(ctx, "tesseract", err, errb)
	}
	return string(out), nil
}

// classify maps a failed command to a recognition error. Running out of time
// or being killed by a signal is transient. Any other failure, including a
// missing binary, means the input or the install is bad and is permanent.
func classify(ctx context.Context, tool string, err error, stderr []byte) error {
	detail := strings.TrimSpace(truncate(string(stderr), 500))
	wrapped := fmt.Errorf("%s: %w (%s)", tool, err, detail)
	if ctx.Err() != nil {
		return domain.NewRecognitionError(domain.KindTransient, fmt.Errorf("%s: %w", tool, ctx.Err()))
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == -1 {
		return domain.NewRecognitionError(domain.KindTransient, wrapped)
	}
	return domain.NewRecognitionError(domain.KindPermanent, wrapped)
}
