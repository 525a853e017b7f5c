package store

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// weaponCache maps weapon names to their reference-table ids. The table is
// small and seeded once, so the whole mapping is held in memory and loaded
// at startup.
type weaponCache struct {
	log *zap.SugaredLogger

	mu     sync.RWMutex
	byName map[string]int

	warnMu sync.Mutex
	warned map[string]bool
}

func newWeaponCache(logger *zap.SugaredLogger) *weaponCache {
	return &weaponCache{
		log:    logger,
		byName: make(map[string]int),
		warned: make(map[string]bool),
	}
}

// LoadWeapons populates the weapon name cache from stats_weapon. It must
// run before the ingest path persists weapon rows; an empty table is an
// error since it means the seeder has not been run.
func (s *Postgres) LoadWeapons(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.pg.Query(ctx, `SELECT weapon_id, name FROM stats_weapon`)
	if err != nil {
		return fmt.Errorf("loading weapons: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]int)
	for rows.Next() {
		var id int
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("loading weapons: %w", err)
		}
		byName[name] = id
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading weapons: %w", err)
	}
	if len(byName) == 0 {
		return fmt.Errorf("stats_weapon is empty, run the seeder first")
	}

	s.weapons.mu.Lock()
	s.weapons.byName = byName
	s.weapons.mu.Unlock()

	s.log.Infow("weapon cache loaded", "count", len(byName))
	return nil
}

// idFor resolves a weapon name, warning once per unknown name so a new
// game weapon shows up in the logs without flooding them.
func (c *weaponCache) idFor(name string) (int, bool) {
	c.mu.RLock()
	id, ok := c.byName[name]
	c.mu.RUnlock()
	if ok {
		return id, true
	}

	c.warnMu.Lock()
	if !c.warned[name] {
		c.warned[name] = true
		c.log.Warnw("unknown weapon name, skipping", "weapon", name)
	}
	c.warnMu.Unlock()
	return 0, false
}
