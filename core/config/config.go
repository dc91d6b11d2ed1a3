package config

import (
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once

	cacheMu sync.Mutex
	cache   = map[reflect.Type]any{}
)

// loadDotenv loads a .env file from the current directory, once per process.
// A missing .env file is not an error - environments without one (production,
// CI) are expected to set variables directly.
func loadDotenv() {
	dotenvOnce.Do(func() {
		if _, err := os.Stat(".env"); err == nil {
			_ = godotenv.Load()
		}
	})
}

// Load parses environment variables into cfg using struct `env:"..."` tags.
// The type T is used as the cache key, so a type is parsed from
// the environment only once per process; subsequent calls for the same type
// return the cached value, unmarshaled into cfg via a shallow copy.
func Load[T any](cfg *T) error {
	loadDotenv()

	t := reflect.TypeOf(*cfg)

	cacheMu.Lock()
	if cached, ok := cache[t]; ok {
		cacheMu.Unlock()
		*cfg = *(cached.(*T))
		return nil
	}
	cacheMu.Unlock()

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", t, err)
	}

	cacheMu.Lock()
	cached := new(T)
	*cached = *cfg
	cache[t] = cached
	cacheMu.Unlock()

	return nil
}

// MustLoad is Load but panics on failure, intended for use during process
// startup where a missing required variable should stop the program.
func MustLoad[T any](cfg *T) *T {
	if err := Load(cfg); err != nil {
		panic(err)
	}
	return cfg
}
