package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// Template is a reusable message body identified by a stable slug.
// Messages rendered from a template keep the slug even after the
// template row is deleted.
type Template struct {
	ID        string
	Slug      string
	Body      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *Template) Validate() error {
	if strings.TrimSpace(t.Slug) == "" {
		return fmt.Errorf("%w: template slug is required", ErrValidation)
	}
	if !slugPattern.MatchString(t.Slug) {
		return fmt.Errorf("%w: invalid template slug: %s", ErrValidation, t.Slug)
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: template body is required", ErrValidation)
	}
	return nil
}
