package payloads

import "github.com/google/uuid"

// PetCreatedEvent confirms that a pet-create command has been applied.
type PetCreatedEvent struct {
	ID         uuid.UUID `json:"id"`
	CategoryID int64     `json:"categoryId"`
}
