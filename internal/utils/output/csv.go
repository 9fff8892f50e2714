package output

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/law-makers/newsfetch/pkg/models"
)

var newsColumns = []string{"url", "title", "source", "keyword", "category", "type", "score", "first_seen"}

// WriteNewsCSV writes news items as CSV with a header row
func WriteNewsCSV(w io.Writer, items []models.NewsItem) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(newsColumns); err != nil {
		return err
	}

	for _, item := range items {
		row := []string{
			item.URL,
			item.Title,
			item.Source,
			item.Keyword,
			item.Category,
			item.Type,
			strconv.FormatFloat(item.Score, 'f', -1, 64),
			item.FirstSeen,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
