package pets

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/angelmondragon/petstore-backend/pkg/command"
	pkgerrors "github.com/angelmondragon/petstore-backend/pkg/errors"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
)

// CreatePetInput is the validated request for a new pet.
type CreatePetInput struct {
	Name     string
	Category string
	Breed    *string
	DOB      string
	Vaccines []string
	Tags     []string
}

type commandSender interface {
	Send(ctx context.Context, cmd command.Command) (int32, int64, error)
}

// CommandService turns pet requests into commands on the stream.
type CommandService struct {
	sender commandSender
	logg   *logger.Logger
}

// NewCommandService builds a CommandService.
func NewCommandService(sender commandSender, logg *logger.Logger) (*CommandService, error) {
	if sender == nil {
		return nil, errors.New("command sender is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &CommandService{sender: sender, logg: logg}, nil
}

// RequestCreate publishes a pet-create command and returns its id. The pet row
// appears once the stream has applied the command under that id.
func (s *CommandService) RequestCreate(ctx context.Context, input CreatePetInput) (uuid.UUID, error) {
	cmd := command.New(CommandCreate, createPayload(input))

	partition, offset, err := s.sender.Send(ctx, cmd)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish pet-create command")
	}

	ctx = s.logg.WithCommand(ctx, cmd.ID().String(), cmd.Name())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"partition": partition, "offset": offset}), "pet-create command sent")
	return cmd.ID(), nil
}

func createPayload(input CreatePetInput) map[string]any {
	payload := map[string]any{
		"name":     input.Name,
		"category": input.Category,
		"dob":      input.DOB,
	}
	if input.Breed != nil {
		payload["breed"] = *input.Breed
	}
	if len(input.Vaccines) > 0 {
		payload["vaccines"] = append([]string(nil), input.Vaccines...)
	}
	if len(input.Tags) > 0 {
		payload["tags"] = append([]string(nil), input.Tags...)
	}
	return payload
}
