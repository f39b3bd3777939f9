package template

import (
	"context"
	"errors"

	"notifyd/internal/models"
	"notifyd/internal/storage"
)

// ErrTemplateNotFound is returned when a template is absent or inactive.
var ErrTemplateNotFound = errors.New("template not found")

// Service looks templates up in the store and renders them.
type Service struct {
	store storage.Storage
}

func NewService(store storage.Storage) *Service {
	return &Service{store: store}
}

// RenderByID renders the template with the given variables and returns
// (body, subject). Inactive templates are treated as not found.
func (s *Service) RenderByID(ctx context.Context, id string, variables map[string]any) (string, string, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", "", ErrTemplateNotFound
		}
		return "", "", err
	}
	if !t.IsActive {
		return "", "", ErrTemplateNotFound
	}

	body, subject := Render(t.Body, t.Subject, variables)
	return body, subject, nil
}

// Get returns an active template by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Template, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	if !t.IsActive {
		return nil, ErrTemplateNotFound
	}
	return t, nil
}
