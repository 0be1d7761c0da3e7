package app

import (
	"strings"

	"glucomate/internal/foodgi"
)

type FoodService struct {
	catalog *foodgi.Catalog
}

type FoodView struct {
	foodgi.Food
	Level string `json:"level"`
}

func NewFoodService(catalog *foodgi.Catalog) *FoodService {
	return &FoodService{catalog: catalog}
}

func (s *FoodService) Search(query string, limit int) []FoodView {
	foods := s.catalog.Search(query, limit)
	views := make([]FoodView, 0, len(foods))
	for _, f := range foods {
		views = append(views, FoodView{Food: f, Level: f.Level()})
	}
	return views
}

func (s *FoodService) Get(name string) (*FoodView, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidInput
	}
	f, ok := s.catalog.Get(name)
	if !ok {
		return nil, ErrFoodNotFound
	}
	return &FoodView{Food: f, Level: f.Level()}, nil
}
