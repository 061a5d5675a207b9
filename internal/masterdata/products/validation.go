package products

import (
	"errors"
	"strings"
)

func (s *Service) validate(p Product) error {
	if p.CategoryID <= 0 {
		return errors.New("category is required")
	}
	if strings.TrimSpace(p.SKU) == "" {
		return errors.New("product SKU is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("product name is required")
	}
	if strings.TrimSpace(p.Unit) == "" {
		return errors.New("product unit is required")
	}
	return nil
}
