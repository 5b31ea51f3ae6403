package calendar

import "github.com/google/uuid"

// IDProvider issues identifiers for newly created local events.
type IDProvider interface {
	NewID() (EventID, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (EventID, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return EventID(value.String()), nil
}
