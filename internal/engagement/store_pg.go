package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// likeCountsChannel is the NOTIFY channel the counter trigger publishes
// to. Payloads are "<entity uuid>:<count>".
const likeCountsChannel = "like_counts"

// PGStore is the authoritative Store on PostgreSQL. The like counter is
// maintained by a trigger on engagement_records; this layer only ever
// reads it.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGStore creates a PGStore on the given pool.
func NewPGStore(pool *pgxpool.Pool, logger *slog.Logger) *PGStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGStore{pool: pool, logger: logger}
}

func (s *PGStore) FetchState(ctx context.Context, entityID uuid.UUID, visitorToken string) (State, error) {
	var state State

	err := s.pool.QueryRow(ctx,
		`SELECT like_count FROM engagement_counters WHERE entity_id = $1`, entityID,
	).Scan(&state.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		// No counter row yet: nobody has liked this pet.
		state.Count = 0
	} else if err != nil {
		return State{}, fmt.Errorf("fetch like count: %w", err)
	}

	if visitorToken == "" {
		return state, nil
	}

	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM engagement_records
		     WHERE entity_id = $1 AND visitor_token = $2)`,
		entityID, visitorToken,
	).Scan(&state.Liked)
	if err != nil {
		return State{}, fmt.Errorf("fetch like status: %w", err)
	}
	return state, nil
}

func (s *PGStore) AddRecord(ctx context.Context, entityID uuid.UUID, visitorToken string) error {
	if visitorToken == "" {
		return errors.New("visitor token is required")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO engagement_records (entity_id, visitor_token) VALUES ($1, $2)`,
		entityID, visitorToken,
	)
	if err != nil {
		if isDuplicateEngagement(err) {
			return ErrAlreadyLiked
		}
		return fmt.Errorf("insert engagement record: %w", err)
	}
	return nil
}

func (s *PGStore) RemoveRecord(ctx context.Context, entityID uuid.UUID, visitorToken string) error {
	if visitorToken == "" {
		return nil
	}

	// Deleting an absent record is deliberately not an error: unlike is
	// idempotent from the store's point of view.
	_, err := s.pool.Exec(ctx,
		`DELETE FROM engagement_records WHERE entity_id = $1 AND visitor_token = $2`,
		entityID, visitorToken,
	)
	if err != nil {
		return fmt.Errorf("delete engagement record: %w", err)
	}
	return nil
}

// SubscribeCounter holds a dedicated connection on LISTEN and forwards
// counter values for the given entity until ctx is cancelled. The
// returned channel is closed when the subscription ends.
func (s *PGStore) SubscribeCounter(ctx context.Context, entityID uuid.UUID) (<-chan int64, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+likeCountsChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen on %s: %w", likeCountsChannel, err)
	}

	updates := make(chan int64, 1)
	go func() {
		defer close(updates)
		defer conn.Release()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("counter feed interrupted", "error", err)
				}
				return
			}

			id, count, ok := parseCounterPayload(n.Payload)
			if !ok {
				s.logger.Warn("malformed counter notification", "payload", n.Payload)
				continue
			}
			if id != entityID {
				continue
			}

			select {
			case updates <- count:
			case <-ctx.Done():
				return
			}
		}
	}()

	return updates, nil
}

func parseCounterPayload(payload string) (uuid.UUID, int64, bool) {
	idPart, countPart, found := strings.Cut(payload, ":")
	if !found {
		return uuid.Nil, 0, false
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, 0, false
	}
	count, err := strconv.ParseInt(countPart, 10, 64)
	if err != nil {
		return uuid.Nil, 0, false
	}
	return id, count, true
}
