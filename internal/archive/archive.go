package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"levercore/internal/storage/postgres"
)

var decoder = jsoniter.ConfigCompatibleWithStandardLibrary

const stateName = "audit_events"

// Store is the persistence surface the archiver writes to.
type Store interface {
	InsertAuditEvents(ctx context.Context, rows []postgres.AuditEventRow) error
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, ts uint64) error
}

// Config controls archival behavior.
type Config struct {
	BatchSize int
	// Since forces re-archival from this unix timestamp instead of the
	// persisted state.
	Since uint64
}

// Archiver streams an audit-event JSONL file into Postgres, resumable by
// write timestamp.
type Archiver struct {
	cfg    Config
	store  Store
	logger *zap.Logger
}

func NewArchiver(cfg Config, store Store, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{cfg: cfg, store: store, logger: logger}
}

type envelope struct {
	Event     string          `json:"event"`
	Fields    json.RawMessage `json:"fields"`
	WrittenAt string          `json:"written_at"`
}

// Run archives every envelope in the input file written after the resume
// point.
func (a *Archiver) Run(ctx context.Context, inputPath string) error {
	if a.store == nil {
		return fmt.Errorf("store is nil")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 1000
	}

	startTs, err := a.loadStartTimestamp(ctx)
	if err != nil {
		return err
	}

	file, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	batch := make([]postgres.AuditEventRow, 0, a.cfg.BatchSize)
	maxTs := startTs
	var total, archived, skipped, failed int

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var env envelope
		if err := decoder.Unmarshal(line, &env); err != nil {
			failed++
			a.logger.Warn("decode envelope", zap.Error(err))
			continue
		}
		written, err := time.Parse(time.RFC3339Nano, env.WrittenAt)
		if err != nil {
			failed++
			a.logger.Warn("parse written_at", zap.String("value", env.WrittenAt), zap.Error(err))
			continue
		}
		ts := uint64(written.Unix())
		if ts <= startTs {
			skipped++
			continue
		}

		batch = append(batch, postgres.AuditEventRow{
			Name:      env.Event,
			Payload:   append([]byte(nil), env.Fields...),
			WrittenAt: env.WrittenAt,
		})
		archived++
		if ts > maxTs {
			maxTs = ts
		}

		if len(batch) >= a.cfg.BatchSize {
			if err := a.store.InsertAuditEvents(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
			if err := a.store.SaveState(ctx, stateName, maxTs); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	if len(batch) > 0 {
		if err := a.store.InsertAuditEvents(ctx, batch); err != nil {
			return err
		}
	}
	if err := a.store.SaveState(ctx, stateName, maxTs); err != nil {
		return err
	}

	a.logger.Info("archive complete",
		zap.Int("total", total),
		zap.Int("archived", archived),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	return nil
}

func (a *Archiver) loadStartTimestamp(ctx context.Context) (uint64, error) {
	if a.cfg.Since > 0 {
		return a.cfg.Since - 1, nil
	}
	last, ok, err := a.store.LoadState(ctx, stateName)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}
