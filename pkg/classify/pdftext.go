package classify

import (
	"strings"

	"github.com/ledongthuc/pdf"

	"policycrawl/pkg/utils"
)

const (
	textSampleMaxChars = 2000
	textSampleMaxPages = 3
)

// ExtractTextSample pulls plain text from the first few pages of a PDF to
// feed the classifier. Extraction failures are non-fatal for the pipeline:
// callers should log the error and classify on URL/filename alone. Returns
// "" without error for scanned PDFs with no text layer.
func ExtractTextSample(filePath string) (string, error) {
	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return "", utils.WrapErrorf(utils.ErrParsing, "opening PDF %q", filePath)
	}
	defer f.Close()

	var sb strings.Builder
	pages := reader.NumPage()
	if pages > textSampleMaxPages {
		pages = textSampleMaxPages
	}
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, textErr := page.GetPlainText(nil)
		if textErr != nil {
			continue // a single unreadable page should not lose the rest
		}
		sb.WriteString(text)
		if sb.Len() >= textSampleMaxChars {
			break
		}
	}

	sample := sb.String()
	if len(sample) > textSampleMaxChars {
		sample = sample[:textSampleMaxChars]
	}
	if strings.TrimSpace(sample) == "" {
		return "", nil
	}
	return sample, nil
}
