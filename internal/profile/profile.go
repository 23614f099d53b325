package profile

import (
	"errors"
	"strings"

	"github.com/Brownie44l1/indofood-api/internal/observable"
)

const (
	DefaultName  = "FoodLover123"
	DefaultEmail = "user@example.com"
)

var ErrInvalid = errors.New("name and email are required")

// Profile is the local user profile.
type Profile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Store holds the profile shown and edited by the profile screens.
type Store struct {
	current *observable.Value[Profile]
}

func NewStore() *Store {
	return &Store{
		current: observable.New(Profile{Name: DefaultName, Email: DefaultEmail}),
	}
}

func (s *Store) Get() Profile {
	return s.current.Get()
}

// Update replaces name and email. Surrounding whitespace is dropped and
// blank values are rejected.
func (s *Store) Update(name, email string) (Profile, error) {
	p := Profile{
		Name:  strings.TrimSpace(name),
		Email: strings.TrimSpace(email),
	}
	if p.Name == "" || p.Email == "" {
		return s.current.Get(), ErrInvalid
	}
	s.current.Set(p)
	return p, nil
}
