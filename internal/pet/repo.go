// Package pet provides the read path for pet profiles. Full profile
// management lives with the rest of the authenticated application; the
// public share page only needs lookup, and seeding needs create.
package pet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pawtag/internal/errx"
	"pawtag/internal/idgen"
)

// Repository defines the persistence operations for Pet entities.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (Pet, error)
	Create(ctx context.Context, p Pet) (Pet, error)
}

type repo struct {
	pool *pgxpool.Pool
	ids  idgen.Generator
}

// RepositoryConfig holds configuration for the repository.
type RepositoryConfig struct {
	IDGenerator idgen.Generator
}

// NewRepository creates a new Repository implementation.
func NewRepository(pool *pgxpool.Pool, config *RepositoryConfig) Repository {
	if config == nil {
		config = &RepositoryConfig{}
	}

	// Default: UUID v7 (good for DB locality).
	if config.IDGenerator == nil {
		config.IDGenerator = idgen.NewV7(idgen.WithRetries(1))
	}

	return &repo{
		pool: pool,
		ids:  config.IDGenerator,
	}
}

func (r *repo) GetByID(ctx context.Context, id uuid.UUID) (Pet, error) {
	const op = "pet.repo.GetByID"

	var p Pet
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, species, breed, bio, photo_url, lost, created_at
		   FROM pets WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Species, &p.Breed, &p.Bio, &p.PhotoURL, &p.Lost, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pet{}, errx.E(op, errx.NotFound, err)
		}
		return Pet{}, errx.E(op, errx.Unavailable, err)
	}
	return p, nil
}

func (r *repo) Create(ctx context.Context, p Pet) (Pet, error) {
	const op = "pet.repo.Create"

	if p.ID == uuid.Nil {
		id, err := r.ids.Generate()
		if err != nil {
			return Pet{}, errx.E(op, errx.Unavailable, err)
		}
		p.ID = id
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO pets (id, name, species, breed, bio, photo_url, lost)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		p.ID, p.Name, p.Species, p.Breed, p.Bio, p.PhotoURL, p.Lost,
	).Scan(&p.CreatedAt)
	if err != nil {
		return Pet{}, errx.E(op, errx.Unavailable, err)
	}
	return p, nil
}
