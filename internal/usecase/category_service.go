package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"storefront-backend/internal/domain"
)

type CategoryService struct {
	Tx         TxManager
	Categories CategoryStore
}

// Create stores one category or a whole batch. A batch is all or nothing.
func (s *CategoryService) Create(ctx context.Context, p domain.CategoryPayload) ([]domain.Category, error) {
	ctx, span := tracer.Start(ctx, "CategoryService.Create")
	defer span.End()

	var inputs []domain.CategoryInput
	if p.IsBatch() {
		if len(p.Batch) == 0 {
			return nil, ErrValidation("category batch must not be empty")
		}
		inputs = p.Batch
	} else {
		inputs = []domain.CategoryInput{*p.Single}
	}

	out := make([]domain.Category, 0, len(inputs))
	slugs := make(map[string]struct{}, len(inputs))
	for i, in := range inputs {
		c, err := newCategory(in)
		if err != nil {
			if p.IsBatch() {
				return nil, ErrValidation(fmt.Sprintf("[%d]: %s", i, err.Error()))
			}
			return nil, err
		}
		if _, dup := slugs[c.Slug]; dup {
			return nil, ErrConflict("duplicate category slug " + c.Slug)
		}
		slugs[c.Slug] = struct{}{}
		out = append(out, c)
	}

	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		for i := range out {
			if err := s.Categories.InsertCategory(ctx, &out[i]); err != nil {
				if errors.Is(err, domain.ErrDuplicateKey) {
					return ErrConflict("category slug already exists: " + out[i].Slug)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domainErr("create category", err)
	}
	return out, nil
}

func newCategory(in domain.CategoryInput) (domain.Category, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Category{}, ErrValidation("name required")
	}
	slug := slugify(in.Slug)
	if slug == "" {
		slug = slugify(name)
	}
	if slug == "" {
		return domain.Category{}, ErrValidation("cannot derive slug from name")
	}
	return domain.Category{
		ID:       newID(),
		Name:     name,
		Slug:     slug,
		ParentID: strings.TrimSpace(in.ParentID),
	}, nil
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
