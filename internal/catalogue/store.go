package catalogue

import (
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/indofood-api/internal/observable"
)

// DefaultRecommendedCount is how many dishes the home page recommends.
const DefaultRecommendedCount = 5

// Store is the catalogue state shared by every screen. Build one at the
// application root and pass it down.
type Store struct {
	Items   *observable.Value[[]FoodItem]
	Loading *observable.Value[bool]

	loadErr *observable.Value[error]
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		Items:   observable.New[[]FoodItem](nil),
		Loading: observable.New(false),
		loadErr: observable.New[error](nil),
	}
}

// LoadFile loads the dataset at path. A failure leaves the store empty and
// degraded; it is returned and also kept for Err.
func (s *Store) LoadFile(path string) error {
	s.Loading.Set(true)
	defer s.Loading.Set(false)

	items, err := ParseFile(path)
	s.finishLoad(items, err)
	if err == nil {
		log.Info().Str("component", "catalogue").Str("path", path).Int("items", len(items)).Msg("Catalogue loaded")
	}
	return err
}

// Load loads the dataset from r.
func (s *Store) Load(r io.Reader) error {
	s.Loading.Set(true)
	defer s.Loading.Set(false)

	items, err := Parse(r)
	s.finishLoad(items, err)
	return err
}

func (s *Store) finishLoad(items []FoodItem, err error) {
	if err != nil {
		log.Error().Str("component", "catalogue").Err(err).Msg("Failed to load catalogue")
		items = nil
	}
	s.loadErr.Set(err)
	s.Items.Set(items)
}

// Err reports the last load failure, nil when healthy.
func (s *Store) Err() error {
	return s.loadErr.Get()
}

// All returns every loaded dish in dataset order.
func (s *Store) All() []FoodItem {
	return s.Items.Get()
}

// Search filters by a case-insensitive substring of name, category or any
// ingredient. A blank query matches everything. The store is not modified,
// so concurrent callers each get their own result.
func (s *Store) Search(query string) []FoodItem {
	items := s.Items.Get()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return items
	}

	matches := make([]FoodItem, 0)
	for _, item := range items {
		if matchesQuery(item, q) {
			matches = append(matches, item)
		}
	}
	return matches
}

func matchesQuery(item FoodItem, q string) bool {
	if strings.Contains(strings.ToLower(item.Name), q) ||
		strings.Contains(strings.ToLower(item.Category), q) {
		return true
	}
	for _, ingredient := range item.Ingredients {
		if strings.Contains(strings.ToLower(ingredient), q) {
			return true
		}
	}
	return false
}

// GetByID returns the dish with the given id or ErrNotFound.
func (s *Store) GetByID(id string) (FoodItem, error) {
	for _, item := range s.Items.Get() {
		if item.ID == id {
			return item, nil
		}
	}
	return FoodItem{}, ErrNotFound
}

// TopRated returns up to n dishes by descending rating. Equal ratings keep
// dataset order.
func (s *Store) TopRated(n int) []FoodItem {
	items := s.Items.Get()
	if n <= 0 || len(items) == 0 {
		return []FoodItem{}
	}

	sorted := make([]FoodItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Rating.GreaterThan(sorted[j].Rating)
	})

	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
