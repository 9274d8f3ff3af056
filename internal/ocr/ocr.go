// Package ocr extracts sale rows from screenshots of transaction tables
// with a vision model. Rows come back untyped and are validated later by
// normalize.OCR.
package ocr

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/hartproperty/propsync/internal/normalize"
	"github.com/hartproperty/propsync/pkg/anthropic"
)

// Extractor turns one image into candidate rows.
type Extractor interface {
	Extract(ctx context.Context, imagePath string) ([]normalize.VisionRow, error)
}

const systemPrompt = `You read screenshots of Singapore condominium sale transaction tables.
Return only a JSON array. Each element is one sale row with these keys:
"date" (as printed, e.g. "23 Dec 2025"), "level" (integer floor), "unit" (integer unit number),
"unit_type" (e.g. "3 Bedroom"), "sqft" (integer), "price" (integer dollars, no separators),
"sale_type" ("New Sale", "Sub Sale" or "Resale").
Use null for any value you cannot read. Do not guess and do not add commentary.`

const userPrompt = "Extract every transaction row in this screenshot."

// mediaTypes are the image types the Messages API accepts.
var mediaTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// MediaType returns the image media type for path, or false when the
// extension is not a supported image.
func MediaType(path string) (string, bool) {
	mt, ok := mediaTypes[strings.ToLower(filepath.Ext(path))]
	return mt, ok
}

// Vision extracts rows with the Anthropic Messages API.
type Vision struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewVision creates a Vision extractor.
func NewVision(client anthropic.Client, model string, maxTokens int64) *Vision {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Vision{client: client, model: model, maxTokens: maxTokens}
}

// Extract reads the image at imagePath and returns the rows the model saw.
func (v *Vision) Extract(ctx context.Context, imagePath string) ([]normalize.VisionRow, error) {
	mt, ok := MediaType(imagePath)
	if !ok {
		return nil, eris.Errorf("ocr: unsupported image %s", imagePath)
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: read image %s", imagePath)
	}

	temp := 0.0
	resp, err := v.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       v.model,
		MaxTokens:   v.maxTokens,
		System:      systemPrompt,
		Temperature: &temp,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: userPrompt,
			Images:  []anthropic.Image{{MediaType: mt, Data: data}},
		}},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: extract %s", filepath.Base(imagePath))
	}
	resp.Usage.LogCost(v.model, "ocr")

	rows, err := ParseRows(resp.Text())
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: extract %s", filepath.Base(imagePath))
	}
	zap.L().Debug("ocr: extracted rows",
		zap.String("image", filepath.Base(imagePath)),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

// ParseRows decodes the model's answer. Markdown code fences and any
// prose around the outermost JSON array are ignored.
func ParseRows(text string) ([]normalize.VisionRow, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, eris.New("ocr: response holds no JSON array")
	}
	var rows []normalize.VisionRow
	if err := json.Unmarshal([]byte(text[start:end+1]), &rows); err != nil {
		return nil, eris.Wrap(err, "ocr: decode rows")
	}
	return rows, nil
}
