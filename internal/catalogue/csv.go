package catalogue

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Column order of the dataset:
// id, name, category, price, rating, origin, image, ingredients, instructions
const fieldCount = 9

const listSeparator = ";"

// ParseFile reads a dataset file from disk.
func ParseFile(path string) ([]FoodItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads a header row followed by data rows. Quoted fields may hold
// commas and doubled quotes. Rows with fewer than nine fields are skipped
// with a warning; unparsable numbers become zero.
func Parse(r io.Reader) ([]FoodItem, error) {
	logger := log.With().Str("component", "catalogue").Logger()

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read dataset header: %w", err)
	}

	var items []FoodItem
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				logger.Warn().Err(err).Int("line", parseErr.Line).Msg("Skipping unreadable row")
				continue
			}
			return items, fmt.Errorf("failed to read dataset: %w", err)
		}

		if len(record) < fieldCount {
			line, _ := cr.FieldPos(0)
			logger.Warn().
				Int("line", line).
				Int("fields", len(record)).
				Msgf("Skipping malformed row (expected %d columns)", fieldCount)
			continue
		}

		items = append(items, parseRecord(record))
	}

	return items, nil
}

func parseRecord(record []string) FoodItem {
	price, err := strconv.Atoi(strings.TrimSpace(record[3]))
	if err != nil {
		price = 0
	}

	rating, err := decimal.NewFromString(strings.TrimSpace(record[4]))
	if err != nil {
		rating = decimal.Zero
	}

	return FoodItem{
		ID:           strings.TrimSpace(record[0]),
		Name:         strings.TrimSpace(record[1]),
		Category:     strings.TrimSpace(record[2]),
		Price:        price,
		Rating:       rating,
		Origin:       strings.TrimSpace(record[5]),
		ImageURL:     strings.TrimSpace(record[6]),
		Ingredients:  splitList(record[7]),
		Instructions: splitList(record[8]),
	}
}

func splitList(field string) []string {
	parts := strings.Split(field, listSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
