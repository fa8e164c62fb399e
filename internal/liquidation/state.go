package liquidation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DayCounter tracks how many liquidations executed in one UTC day.
type DayCounter struct {
	Day       string `json:"day"`
	Count     uint64 `json:"count"`
	UpdatedAt string `json:"updated_at"`
}

// DayCounterStore persists the daily liquidation counter to disk so the cap
// survives restarts.
type DayCounterStore struct {
	path    string
	enabled bool
}

func NewDayCounterStore(path string, enabled bool) *DayCounterStore {
	return &DayCounterStore{path: path, enabled: enabled}
}

func (s *DayCounterStore) Load() (DayCounter, bool, error) {
	if !s.enabled {
		return DayCounter{}, false, nil
	}

	stat, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return DayCounter{}, false, nil
		}
		return DayCounter{}, false, fmt.Errorf("stat day counter: %w", err)
	}
	if stat.IsDir() {
		return DayCounter{}, false, fmt.Errorf("day counter path is a directory")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return DayCounter{}, false, fmt.Errorf("read day counter: %w", err)
	}

	var counter DayCounter
	if err := json.Unmarshal(data, &counter); err != nil {
		return DayCounter{}, false, fmt.Errorf("parse day counter: %w", err)
	}

	return counter, true, nil
}

func (s *DayCounterStore) Save(day string, count uint64) error {
	if !s.enabled {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create day counter dir: %w", err)
		}
	}

	counter := DayCounter{
		Day:       day,
		Count:     count,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(counter)
	if err != nil {
		return fmt.Errorf("marshal day counter: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write day counter tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename day counter: %w", err)
	}

	return nil
}
