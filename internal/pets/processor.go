package pets

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/petstore-backend/pkg/command"
	dbpkg "github.com/angelmondragon/petstore-backend/pkg/db"
	"github.com/angelmondragon/petstore-backend/pkg/db/models"
	"github.com/angelmondragon/petstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/petstore-backend/pkg/errors"
	"github.com/angelmondragon/petstore-backend/pkg/logger"
	"github.com/angelmondragon/petstore-backend/pkg/outbox"
	"github.com/angelmondragon/petstore-backend/pkg/outbox/payloads"
)

// CommandCreate is the command name handled by Processor.
const CommandCreate = "pet-create"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

// ProcessorParams wires the processor dependencies.
type ProcessorParams struct {
	DB     txRunner
	Repo   *Repository
	Outbox eventEmitter
	Logger *logger.Logger
}

// Processor applies pet-create commands.
type Processor struct {
	db     txRunner
	repo   *Repository
	outbox eventEmitter
	logg   *logger.Logger
}

// NewProcessor validates params and builds a Processor.
func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox service is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Processor{
		db:     params.DB,
		repo:   params.Repo,
		outbox: params.Outbox,
		logg:   params.Logger,
	}, nil
}

type createPet struct {
	category string
	name     string
	dob      string
	breed    *string
	vaccines []string
	tags     []string
}

// Handle reads every attribute before writing so a malformed command leaves the store untouched.
func (p *Processor) Handle(ctx context.Context, cmd command.Command) error {
	input, err := parseCreate(cmd)
	if err != nil {
		return err
	}

	var (
		categoryID int64
		inserted   bool
	)
	err = p.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := p.repo.WithTx(tx)

		var err error
		categoryID, err = repo.UpsertCategory(ctx, input.category)
		if err != nil {
			return err
		}

		pet := &models.Pet{
			ID:         cmd.ID(),
			Name:       input.name,
			DOB:        input.dob,
			CategoryID: categoryID,
			Breed:      input.breed,
		}
		inserted, err = repo.InsertPetIfAbsent(ctx, pet)
		if err != nil {
			return err
		}
		if err := repo.AddVaccines(ctx, pet.ID, input.vaccines); err != nil {
			return err
		}
		if err := repo.AddTags(ctx, pet.ID, input.tags); err != nil {
			return err
		}

		_, err = p.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPetCreated,
			AggregateType: enums.AggregatePet,
			AggregateID:   pet.ID,
			Command:       &outbox.CommandRef{ID: cmd.ID(), Name: cmd.Name()},
			Data:          payloads.PetCreatedEvent{ID: pet.ID, CategoryID: categoryID},
		})
		return err
	})
	if err != nil {
		if dbpkg.IsDataException(err) {
			return pkgerrors.Wrap(pkgerrors.CodeInvalidPayload, err, "store rejected pet-create values")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply pet-create")
	}

	fields := map[string]any{"category_id": categoryID, "inserted": inserted}
	if inserted {
		p.logg.Info(p.logg.WithFields(ctx, fields), "pet created")
	} else {
		p.logg.Info(p.logg.WithFields(ctx, fields), "pet already exists")
	}
	return nil
}

func parseCreate(cmd command.Command) (createPet, error) {
	var (
		input createPet
		err   error
	)
	if input.category, err = command.Get[string](cmd, "category"); err != nil {
		return createPet{}, err
	}
	if input.name, err = command.Get[string](cmd, "name"); err != nil {
		return createPet{}, err
	}
	if input.dob, err = command.Get[string](cmd, "dob"); err != nil {
		return createPet{}, err
	}
	if cmd.Contains("breed") {
		breed, err := command.Get[string](cmd, "breed")
		if err != nil {
			return createPet{}, err
		}
		input.breed = &breed
	}
	if cmd.Contains("vaccines") {
		if input.vaccines, err = command.GetList[string](cmd, "vaccines"); err != nil {
			return createPet{}, err
		}
	}
	if cmd.Contains("tags") {
		if input.tags, err = command.GetList[string](cmd, "tags"); err != nil {
			return createPet{}, err
		}
	}
	if err := input.checkText(); err != nil {
		return createPet{}, err
	}
	return input, nil
}

// checkText rejects values a Postgres text column would refuse on every
// redelivery.
func (c createPet) checkText() error {
	values := map[string][]string{
		"category": {c.category},
		"name":     {c.name},
		"dob":      {c.dob},
		"vaccines": c.vaccines,
		"tags":     c.tags,
	}
	if c.breed != nil {
		values["breed"] = []string{*c.breed}
	}
	for attr, list := range values {
		for _, v := range list {
			if !dbpkg.ValidText(v) {
				return pkgerrors.New(pkgerrors.CodeInvalidPayload, fmt.Sprintf("%s contains a NUL byte or invalid UTF-8", attr))
			}
		}
	}
	return nil
}
