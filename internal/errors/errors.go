// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCampaignAlreadyClaimed is returned when another planner run moved the
	// campaign out of pending first.
	ErrCampaignAlreadyClaimed = errors.New("campaign already claimed")
	ErrInvalidCampaign        = errors.New("invalid campaign")
	ErrInvalidTransition      = errors.New("invalid campaign status transition")
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrMessageNotFound struct {
	MessageID string
}

func (e *ErrMessageNotFound) Error() string {
	return fmt.Sprintf("message log %s not found", e.MessageID)
}

func NewMessageNotFound(id string) error {
	return &ErrMessageNotFound{MessageID: id}
}

type ErrInstanceNotFound struct {
	TenantID string
	Name     string
}

func (e *ErrInstanceNotFound) Error() string {
	return fmt.Sprintf("instance %q not found for tenant %s", e.Name, e.TenantID)
}

func NewInstanceNotFound(tenantID, name string) error {
	return &ErrInstanceNotFound{TenantID: tenantID, Name: name}
}

// ValidationError collects every problem found in a campaign definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid campaign: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidCampaign }

// IsNotFound reports whether err is any of the not-found errors above.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var m *ErrMessageNotFound
	var i *ErrInstanceNotFound
	return errors.As(err, &c) || errors.As(err, &m) || errors.As(err, &i)
}
