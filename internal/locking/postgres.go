package locking

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jmoiron/sqlx"
)

// Postgres is a Locker using session-level advisory locks. Each lease pins
// one pooled connection until released; ttl is not enforced.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// AdvisoryKey maps a lock name onto the bigint advisory lock space.
func AdvisoryKey(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

func (p *Postgres) TryLock(ctx context.Context, key string, _ time.Duration) (Lease, bool, error) {
	conn, err := p.db.Connx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("advisory lock %s: %w", key, err)
	}

	id := AdvisoryKey(key)
	var ok bool
	if err := conn.GetContext(ctx, &ok, `SELECT pg_try_advisory_lock($1)`, id); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("advisory lock %s: %w", key, err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}
	return &pgLease{conn: conn, key: key, id: id}, true, nil
}

type pgLease struct {
	conn *sqlx.Conn
	key  string
	id   int64
}

func (l *pgLease) Release(ctx context.Context) error {
	defer l.conn.Close()

	var released bool
	if err := l.conn.GetContext(ctx, &released, `SELECT pg_advisory_unlock($1)`, l.id); err != nil {
		return fmt.Errorf("advisory unlock %s: %w", l.key, err)
	}
	if !released {
		return ErrNotHeld
	}
	return nil
}
