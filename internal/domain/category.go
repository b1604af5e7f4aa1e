package domain

import (
	"bytes"
	"encoding/json"
	"errors"
)

type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID string `json:"parentId,omitempty"`
}

type CategoryInput struct {
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID string `json:"parentId"`
}

// CategoryPayload is either a single category or a batch of them. Exactly
// one of Single and Batch is set after decoding.
type CategoryPayload struct {
	Single *CategoryInput
	Batch  []CategoryInput
}

func SingleCategory(in CategoryInput) CategoryPayload {
	return CategoryPayload{Single: &in}
}

func BatchCategories(in []CategoryInput) CategoryPayload {
	return CategoryPayload{Batch: in}
}

func (p CategoryPayload) IsBatch() bool { return p.Single == nil }

var ErrCategoryPayload = errors.New("category payload must be an object or an array")

func (p *CategoryPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return ErrCategoryPayload
	}
	switch b[0] {
	case '{':
		var in CategoryInput
		if err := json.Unmarshal(b, &in); err != nil {
			return err
		}
		p.Single, p.Batch = &in, nil
		return nil
	case '[':
		var in []CategoryInput
		if err := json.Unmarshal(b, &in); err != nil {
			return err
		}
		p.Single, p.Batch = nil, in
		if p.Batch == nil {
			p.Batch = []CategoryInput{}
		}
		return nil
	}
	return ErrCategoryPayload
}

func (p CategoryPayload) MarshalJSON() ([]byte, error) {
	if p.Single != nil {
		return json.Marshal(p.Single)
	}
	return json.Marshal(p.Batch)
}
