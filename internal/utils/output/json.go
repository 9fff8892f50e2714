package output

import (
	"encoding/json"
	"io"
	"os"

	"github.com/law-makers/newsfetch/pkg/models"
)

// WriteJSON writes an indented JSON export of v
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// SaveJSON writes the full fetch result, body included, to filepath
func SaveJSON(res *models.FetchResult, filepath string) error {
	f, err := os.Create(filepath)
	if err != nil {
		return err
	}
	if err := WriteJSON(f, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
