package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/petstore-backend/api/responses"
	"github.com/angelmondragon/petstore-backend/api/validators"
	"github.com/angelmondragon/petstore-backend/internal/pets"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

const maxFieldLen = 64

type petCommandService interface {
	RequestCreate(ctx context.Context, input pets.CreatePetInput) (uuid.UUID, error)
}

type createPetRequest struct {
	Name     string   `json:"name" validate:"required,pet_name"`
	Category string   `json:"category" validate:"required,pet_category"`
	Breed    *string  `json:"breed,omitempty" validate:"omitempty,pet_breed"`
	DOB      string   `json:"dob" validate:"required,pet_dob"`
	Vaccines []string `json:"vaccines,omitempty" validate:"omitempty,dive,pet_vaccine"`
	Tags     []string `json:"tags,omitempty" validate:"omitempty,dive,pet_tag"`
}

type createPetResponse struct {
	ID string `json:"id"`
}

// PetCreate accepts a pet and publishes a pet-create command for it. The
// returned id is the command id, which becomes the pet id once applied.
func PetCreate(svc petCommandService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPetRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		id, err := svc.RequestCreate(r.Context(), req.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, createPetResponse{ID: id.String()})
	}
}

func (r createPetRequest) toInput() pets.CreatePetInput {
	input := pets.CreatePetInput{
		Name:     validators.SanitizeString(r.Name, maxFieldLen),
		Category: validators.SanitizeString(r.Category, maxFieldLen),
		DOB:      r.DOB,
		Vaccines: r.Vaccines,
		Tags:     r.Tags,
	}
	if r.Breed != nil {
		breed := validators.SanitizeString(*r.Breed, maxFieldLen)
		input.Breed = &breed
	}
	return input
}
