// Package gateway mediates all document store access. It bounds concurrent
// store operations with a slot pool and trips a circuit breaker when the
// backend fails repeatedly, so an unhealthy store degrades queries to a fast
// Unavailable answer instead of piling up blocked goroutines.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/storyloom/lorebase/internal/storage"
	"github.com/storyloom/lorebase/pkg/types"
)

// Config holds the gateway tuning knobs.
type Config struct {
	// Slots is the maximum number of store operations in flight at once.
	Slots int

	// AcquireTimeout is how long a caller waits for a free slot before the
	// operation fails Unavailable.
	AcquireTimeout time.Duration

	// BreakerMaxFail is the number of consecutive backend failures that
	// open the breaker.
	BreakerMaxFail int

	// BreakerCooloff is how long the breaker stays open before probing the
	// backend again.
	BreakerCooloff time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Slots:          16,
		AcquireTimeout: 2 * time.Second,
		BreakerMaxFail: 5,
		BreakerCooloff: 30 * time.Second,
	}
}

// Gateway wraps a storage.DocumentStore and implements the same interface.
// Every call acquires a slot and runs through the breaker; callers see
// storage.ErrUnavailable when either protection rejects the call.
type Gateway struct {
	store   storage.DocumentStore
	slots   chan struct{}
	breaker *gobreaker.CircuitBreaker
	cfg     Config
}

// New wraps store with the gateway's concurrency and failure protections.
func New(store storage.DocumentStore, cfg Config) *Gateway {
	if cfg.Slots <= 0 {
		cfg.Slots = DefaultConfig().Slots
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultConfig().AcquireTimeout
	}
	if cfg.BreakerMaxFail <= 0 {
		cfg.BreakerMaxFail = DefaultConfig().BreakerMaxFail
	}
	if cfg.BreakerCooloff <= 0 {
		cfg.BreakerCooloff = DefaultConfig().BreakerCooloff
	}

	settings := gobreaker.Settings{
		Name:    "DocumentStore",
		Timeout: cfg.BreakerCooloff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerMaxFail)
		},
		// Domain outcomes are not backend failures: a missing document or a
		// duplicate chapter number says nothing about store health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, storage.ErrNotFound) ||
				errors.Is(err, storage.ErrConflict) ||
				errors.Is(err, storage.ErrInvalidInput)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("[GATEWAY] breaker %s: %s -> %s", name, from, to)
		},
	}

	return &Gateway{
		store:   store,
		slots:   make(chan struct{}, cfg.Slots),
		breaker: gobreaker.NewCircuitBreaker(settings),
		cfg:     cfg,
	}
}

// State returns the breaker state as a string: closed, open, or half-open.
func (g *Gateway) State() string {
	switch g.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// acquire claims a slot, waiting up to AcquireTimeout.
func (g *Gateway) acquire(ctx context.Context) (release func(), err error) {
	timer := time.NewTimer(g.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case g.slots <- struct{}{}:
		return func() { <-g.slots }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: store gateway saturated", storage.ErrUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run executes fn under a slot and the breaker, translating breaker
// rejections into storage.ErrUnavailable.
func run[T any](g *Gateway, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	release, err := g.acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer release()

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: store circuit open", storage.ErrUnavailable)
		}
		return zero, err
	}
	return result.(T), nil
}

// runErr is run for operations that return only an error.
func runErr(g *Gateway, ctx context.Context, fn func(context.Context) error) error {
	_, err := run(g, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Ping checks backend health through the breaker.
func (g *Gateway) Ping(ctx context.Context) error {
	return runErr(g, ctx, g.store.Ping)
}

// Close releases the underlying store.
func (g *Gateway) Close() error {
	return g.store.Close()
}

// --- Novels ---

func (g *Gateway) InsertNovel(ctx context.Context, n *types.Novel) (*types.Novel, error) {
	return run(g, ctx, func(ctx context.Context) (*types.Novel, error) {
		return g.store.InsertNovel(ctx, n)
	})
}

func (g *Gateway) GetNovel(ctx context.Context, id string) (*types.Novel, error) {
	return run(g, ctx, func(ctx context.Context) (*types.Novel, error) {
		return g.store.GetNovel(ctx, id)
	})
}

func (g *Gateway) ListNovels(ctx context.Context, limit int) ([]types.Novel, error) {
	return run(g, ctx, func(ctx context.Context) ([]types.Novel, error) {
		return g.store.ListNovels(ctx, limit)
	})
}

func (g *Gateway) PatchNovel(ctx context.Context, id string, p storage.NovelPatch) (*types.Novel, error) {
	return run(g, ctx, func(ctx context.Context) (*types.Novel, error) {
		return g.store.PatchNovel(ctx, id, p)
	})
}

func (g *Gateway) DeleteNovel(ctx context.Context, id string) error {
	return runErr(g, ctx, func(ctx context.Context) error {
		return g.store.DeleteNovel(ctx, id)
	})
}

// --- Chapters ---

func (g *Gateway) InsertChapter(ctx context.Context, c *types.Chapter) (*types.Chapter, error) {
	return run(g, ctx, func(ctx context.Context) (*types.Chapter, error) {
		return g.store.InsertChapter(ctx, c)
	})
}

func (g *Gateway) GetChapter(ctx context.Context, id string) (*types.Chapter, error) {
	return run(g, ctx, func(ctx context.Context) (*types.Chapter, error) {
		return g.store.GetChapter(ctx, id)
	})
}

func (g *Gateway) GetChapterByNumber(ctx context.Context, novelID string, number int) (*types.Chapter, error) {
	return run(g, ctx, func(ctx context.Context) (*types.Chapter, error) {
		return g.store.GetChapterByNumber(ctx, novelID, number)
	})
}

func (g *Gateway) GetChapterByTitle(ctx context.Context, novelID, title string) (*types.Chapter, error) {
	return run(g, ctx, func(ctx context.Context) (*types.Chapter, error) {
		return g.store.GetChapterByTitle(ctx, novelID, title)
	})
}

func (g *Gateway) ListChaptersByNovel(ctx context.Context, novelID string) ([]types.Chapter, error) {
	return run(g, ctx, func(ctx context.Context) ([]types.Chapter, error) {
		return g.store.ListChaptersByNovel(ctx, novelID)
	})
}

func (g *Gateway) ScanChapters(ctx context.Context) ([]types.Chapter, error) {
	return run(g, ctx, func(ctx context.Context) ([]types.Chapter, error) {
		return g.store.ScanChapters(ctx)
	})
}

func (g *Gateway) PatchChapter(ctx context.Context, id string, p storage.ChapterPatch) (*types.Chapter, error) {
	return run(g, ctx, func(ctx context.Context) (*types.Chapter, error) {
		return g.store.PatchChapter(ctx, id, p)
	})
}

func (g *Gateway) DeleteChapter(ctx context.Context, id string) error {
	return runErr(g, ctx, func(ctx context.Context) error {
		return g.store.DeleteChapter(ctx, id)
	})
}

// --- Characters ---

func (g *Gateway) InsertCharacter(ctx context.Context, c *types.Character) (*types.Character, error) {
	return run(g, ctx, func(ctx context.Context) (*types.Character, error) {
		return g.store.InsertCharacter(ctx, c)
	})
}

func (g *Gateway) GetCharacter(ctx context.Context, id string) (*types.Character, error) {
	return run(g, ctx, func(ctx context.Context) (*types.Character, error) {
		return g.store.GetCharacter(ctx, id)
	})
}

func (g *Gateway) GetCharacterByName(ctx context.Context, novelID, name string) (*types.Character, error) {
	return run(g, ctx, func(ctx context.Context) (*types.Character, error) {
		return g.store.GetCharacterByName(ctx, novelID, name)
	})
}

func (g *Gateway) ListCharactersByNovel(ctx context.Context, novelID string) ([]types.Character, error) {
	return run(g, ctx, func(ctx context.Context) ([]types.Character, error) {
		return g.store.ListCharactersByNovel(ctx, novelID)
	})
}

func (g *Gateway) ScanCharacters(ctx context.Context) ([]types.Character, error) {
	return run(g, ctx, func(ctx context.Context) ([]types.Character, error) {
		return g.store.ScanCharacters(ctx)
	})
}

func (g *Gateway) PatchCharacter(ctx context.Context, id string, p storage.CharacterPatch) (*types.Character, error) {
	return run(g, ctx, func(ctx context.Context) (*types.Character, error) {
		return g.store.PatchCharacter(ctx, id, p)
	})
}

func (g *Gateway) DeleteCharacter(ctx context.Context, id string) error {
	return runErr(g, ctx, func(ctx context.Context) error {
		return g.store.DeleteCharacter(ctx, id)
	})
}

// --- Q&A entries ---

func (g *Gateway) InsertQA(ctx context.Context, qa *types.QAEntry) (*types.QAEntry, error) {
	return run(g, ctx, func(ctx context.Context) (*types.QAEntry, error) {
		return g.store.InsertQA(ctx, qa)
	})
}

func (g *Gateway) GetQA(ctx context.Context, id string) (*types.QAEntry, error) {
	return run(g, ctx, func(ctx context.Context) (*types.QAEntry, error) {
		return g.store.GetQA(ctx, id)
	})
}

func (g *Gateway) ListQA(ctx context.Context, novelID string, limit int) ([]types.QAEntry, error) {
	return run(g, ctx, func(ctx context.Context) ([]types.QAEntry, error) {
		return g.store.ListQA(ctx, novelID, limit)
	})
}

func (g *Gateway) ScanQA(ctx context.Context) ([]types.QAEntry, error) {
	return run(g, ctx, func(ctx context.Context) ([]types.QAEntry, error) {
		return g.store.ScanQA(ctx)
	})
}

func (g *Gateway) PatchQA(ctx context.Context, id string, p storage.QAPatch) (*types.QAEntry, error) {
	return run(g, ctx, func(ctx context.Context) (*types.QAEntry, error) {
		return g.store.PatchQA(ctx, id, p)
	})
}

func (g *Gateway) DeleteQA(ctx context.Context, id string) error {
	return runErr(g, ctx, func(ctx context.Context) error {
		return g.store.DeleteQA(ctx, id)
	})
}

var _ storage.DocumentStore = (*Gateway)(nil)
