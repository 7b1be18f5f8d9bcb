package presence

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const sweepInterval = 5 * time.Second

// StartSweeper runs a background loop that prunes index members whose
// typing entry has expired. ListTyping already prunes lazily for rooms
// being read; the sweeper covers rooms nobody is currently looking at so
// index sets do not accumulate dead members. It blocks until ctx is
// cancelled, so callers run it on its own goroutine.
func StartSweeper(ctx context.Context, rdb *redis.Client) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	store := NewStore(rdb)
	for {
		select {
		case <-ctx.Done():
			log.Println("[presence] sweeper stopped")
			return
		case <-ticker.C:
			sweep(ctx, rdb, store)
		}
	}
}

// sweep scans all per-room index sets and prunes each via ListTyping.
func sweep(ctx context.Context, rdb *redis.Client, store *Store) {
	iter := rdb.Scan(ctx, 0, IndexPrefix+"*", 100).Iterator()
	pruned := 0
	for iter.Next(ctx) {
		roomID := iter.Val()[len(IndexPrefix):]
		before, err := rdb.SCard(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		live, err := store.ListTyping(ctx, roomID)
		if err != nil {
			log.Printf("[presence] sweep room=%s: %v", roomID, err)
			continue
		}
		pruned += int(before) - len(live)
	}
	if err := iter.Err(); err != nil {
		log.Printf("[presence] sweep scan: %v", err)
		return
	}
	if pruned > 0 {
		log.Printf("[presence] sweep pruned %d stale entries", pruned)
	}
}
