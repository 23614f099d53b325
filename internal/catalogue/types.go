package catalogue

import (
	"errors"

	"github.com/shopspring/decimal"
)

// FoodItem is one dish from the bundled dataset.
type FoodItem struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Price        int             `json:"price"`
	Rating       decimal.Decimal `json:"rating"`
	Origin       string          `json:"origin"`
	ImageURL     string          `json:"image_url"`
	Ingredients  []string        `json:"ingredients"`
	Instructions []string        `json:"instructions"`
}

var ErrNotFound = errors.New("food item not found")
