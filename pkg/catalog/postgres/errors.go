package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nats3-io/nats3/pkg/catalog"
)

// mapError translates pgx errors into catalog sentinel errors. notFound is
// what pgx.ErrNoRows maps to for the operation at hand.
func mapError(err error, op string, notFound error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		// 23505: unique_violation
		case "23505":
			if pgErr.ConstraintName == "chunks_bucket_prefix_key_key" {
				return catalog.ErrDuplicateKey
			}
			return catalog.ErrDuplicateName
		// 23503: foreign_key_violation
		case "23503":
			return catalog.ErrJobNotFound
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
