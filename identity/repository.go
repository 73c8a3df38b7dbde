package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrActorNotFound signals that the actor does not exist.
	ErrActorNotFound = errors.New("identity: actor not found")
	// ErrDuplicateAddress signals that the address is already registered.
	ErrDuplicateAddress = errors.New("identity: address already registered")
)

// Repository handles data access for actor identities.
type Repository interface {
	CreateActor(ctx context.Context, params CreateActorParams) (Actor, error)
	GetActorByAddress(ctx context.Context, address string) (Actor, error)
	GetActorByID(ctx context.Context, actorID string) (Actor, error)
}

// CreateActorParams contains write parameters for registering actors.
type CreateActorParams struct {
	Address      string
	Role         Role
	PasswordHash string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed identity repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const actorColumns = `id, address, role::text, password_hash, created_at, updated_at`

// CreateActor inserts a new actor with hashed password.
func (r *PGRepository) CreateActor(ctx context.Context, params CreateActorParams) (Actor, error) {
	const insertSQL = `
		INSERT INTO actors (address, role, password_hash)
		VALUES ($1, $2, $3)
		RETURNING ` + actorColumns

	actor, err := scanActor(r.pool.QueryRow(ctx, insertSQL, params.Address, params.Role, params.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Actor{}, ErrDuplicateAddress
		}
		return Actor{}, fmt.Errorf("identity: create actor: %w", err)
	}
	return actor, nil
}

// GetActorByAddress retrieves an actor by protocol address.
func (r *PGRepository) GetActorByAddress(ctx context.Context, address string) (Actor, error) {
	const selectSQL = `SELECT ` + actorColumns + ` FROM actors WHERE address = $1`

	actor, err := scanActor(r.pool.QueryRow(ctx, selectSQL, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Actor{}, ErrActorNotFound
		}
		return Actor{}, fmt.Errorf("identity: get actor by address: %w", err)
	}
	return actor, nil
}

// GetActorByID retrieves an actor by row id.
func (r *PGRepository) GetActorByID(ctx context.Context, actorID string) (Actor, error) {
	const selectSQL = `SELECT ` + actorColumns + ` FROM actors WHERE id = $1`

	actor, err := scanActor(r.pool.QueryRow(ctx, selectSQL, actorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Actor{}, ErrActorNotFound
		}
		return Actor{}, fmt.Errorf("identity: get actor by id: %w", err)
	}
	return actor, nil
}

func scanActor(row pgx.Row) (Actor, error) {
	var actor Actor
	err := row.Scan(
		&actor.ID,
		&actor.Address,
		&actor.Role,
		&actor.PasswordHash,
		&actor.CreatedAt,
		&actor.UpdatedAt,
	)
	if err != nil {
		return Actor{}, err
	}
	return actor, nil
}
