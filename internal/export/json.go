package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maltedev/webscout/internal/models"
	"github.com/maltedev/webscout/internal/site"
)

const (
	MimeJSON = "application/json"
	MimeCSV  = "text/csv;charset=utf-8"

	filenameTimeLayout = "2006-01-02_15-04"
)

// ToJSON serializes the records verbatim with two space indentation. An empty
// or nil list is rendered as [].
func ToJSON(products []models.Product) (string, error) {
	if products == nil {
		products = []models.Product{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(products); err != nil {
		return "", fmt.Errorf("failed to encode products: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// JSONFilename builds <prefix>_<YYYY>-<MM>-<DD>_<HH>-<mm>.json from the local
// time of t.
func JSONFilename(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s.json", prefix, t.Format(filenameTimeLayout))
}

func JSONPrefix(s site.Site) string {
	return s.String() + "_products"
}

func CSVFilename(s site.Site) string {
	return s.String() + "_products.csv"
}
