package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/greentrace/internal/cache"
	appErrors "github.com/charlesng35/greentrace/pkg/errors"
	"github.com/charlesng35/greentrace/pkg/logger"
	"github.com/charlesng35/greentrace/pkg/metrics"
)

// Record is a client write that failed for lack of network and awaits replay.
type Record struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Replayer delivers a queued write to its real endpoint.
type Replayer interface {
	PostJSON(ctx context.Context, path string, body []byte) (*cache.Response, error)
}

// FlushResult summarises one flush of a sync tag.
type FlushResult struct {
	Tag       string   `json:"tag"`
	Kind      Kind     `json:"kind"`
	Replayed  []string `json:"replayed"`
	Failed    []string `json:"failed"`
	Remaining int      `json:"remaining"`
}

// Queue stores pending records in the offline-queue cache partition, one JSON array per kind.
type Queue struct {
	storage   cache.Storage
	partition string
	replayer  Replayer
	log       *zap.Logger

	mu sync.Mutex
	// data guards read-modify-write of a kind's array; flush serialises replays of the same kind.
	data  map[Kind]*sync.Mutex
	flush map[Kind]*sync.Mutex
}

// New constructs a Queue over the named partition.
func New(storage cache.Storage, partition string, replayer Replayer) *Queue {
	return &Queue{
		storage:   storage,
		partition: partition,
		replayer:  replayer,
		log:       logger.WithModule("syncqueue"),
		data:      make(map[Kind]*sync.Mutex),
		flush:     make(map[Kind]*sync.Mutex),
	}
}

// Partition returns the name of the backing partition.
func (q *Queue) Partition() string {
	return q.partition
}

// List returns the pending records of kind. Internal errors are logged and yield an empty list.
func (q *Queue) List(ctx context.Context, kind Kind) []Record {
	records, err := q.load(ctx, kind)
	if err != nil {
		q.log.Warn("failed to read pending records", zap.String("kind", string(kind)), zap.Error(err))
		return []Record{}
	}
	return records
}

// Append queues a record. An empty id is replaced with a generated one.
func (q *Queue) Append(ctx context.Context, kind Kind, record Record) (Record, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return Record{}, err
	}
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.Kind = kind

	lock := q.lockFor(q.data, kind)
	lock.Lock()
	defer lock.Unlock()

	records, err := q.load(ctx, kind)
	if err != nil {
		return Record{}, err
	}
	records = append(records, record)
	if err := q.store(ctx, kind, records); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Remove deletes the record with id. Removing an absent record is a no-op.
func (q *Queue) Remove(ctx context.Context, kind Kind, id string) error {
	_, err := q.removeAll(ctx, kind, map[string]struct{}{id: {}})
	return err
}

// Pending counts queued records per kind.
func (q *Queue) Pending(ctx context.Context) map[Kind]int {
	counts := make(map[Kind]int, len(routes))
	for _, route := range routes {
		counts[route.Kind] = len(q.List(ctx, route.Kind))
	}
	return counts
}

// Flush replays every record of the tag's kind. Each success removes only its record; failures
// are logged and left for the next trigger without stopping the iteration.
func (q *Queue) Flush(ctx context.Context, tag string) (FlushResult, error) {
	route, ok := routeForTag(tag)
	if !ok {
		return FlushResult{Tag: tag}, appErrors.ErrUnknownSyncTag
	}

	flushLock := q.lockFor(q.flush, route.Kind)
	flushLock.Lock()
	defer flushLock.Unlock()

	result := FlushResult{Tag: route.Tag, Kind: route.Kind, Replayed: []string{}, Failed: []string{}}
	records := q.List(ctx, route.Kind)

	done := make(map[string]struct{}, len(records))
	for _, record := range records {
		if err := q.replay(ctx, route, record); err != nil {
			q.log.Warn("replay failed, record retained",
				zap.String("kind", string(route.Kind)),
				zap.String("id", record.ID),
				zap.Error(err),
			)
			metrics.SyncReplays.WithLabelValues(string(route.Kind), "failure").Inc()
			result.Failed = append(result.Failed, record.ID)
			continue
		}
		metrics.SyncReplays.WithLabelValues(string(route.Kind), "success").Inc()
		result.Replayed = append(result.Replayed, record.ID)
		done[record.ID] = struct{}{}
	}

	remaining, err := q.removeAll(ctx, route.Kind, done)
	if err != nil {
		return result, fmt.Errorf("syncqueue: commit flush of %s: %w", route.Kind, err)
	}
	result.Remaining = remaining

	q.log.Info("sync flush complete",
		zap.String("tag", route.Tag),
		zap.Int("replayed", len(result.Replayed)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (q *Queue) replay(ctx context.Context, route Route, record Record) error {
	body := []byte(record.Payload)
	if len(body) == 0 {
		encoded, err := json.Marshal(record)
		if err != nil {
			return err
		}
		body = encoded
	}

	resp, err := q.replayer.PostJSON(ctx, route.Endpoint, body)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("endpoint answered %d", resp.Status)
	}
	return nil
}

func (q *Queue) removeAll(ctx context.Context, kind Kind, ids map[string]struct{}) (int, error) {
	lock := q.lockFor(q.data, kind)
	lock.Lock()
	defer lock.Unlock()

	records, err := q.load(ctx, kind)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return len(records), nil
	}

	kept := records[:0]
	for _, record := range records {
		if _, drop := ids[record.ID]; !drop {
			kept = append(kept, record)
		}
	}
	if len(kept) == len(records) {
		return len(kept), nil
	}
	return len(kept), q.store(ctx, kind, kept)
}

func (q *Queue) load(ctx context.Context, kind Kind) ([]Record, error) {
	part, err := q.storage.Open(ctx, q.partition)
	if err != nil {
		return nil, err
	}
	resp, ok, err := part.Match(ctx, recordKey(kind))
	if err != nil || !ok {
		return []Record{}, err
	}

	var records []Record
	if err := json.Unmarshal(resp.Body, &records); err != nil {
		return nil, fmt.Errorf("decode %s records: %w", kind, err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func (q *Queue) store(ctx context.Context, kind Kind, records []Record) error {
	body, err := json.Marshal(records)
	if err != nil {
		return err
	}
	part, err := q.storage.Open(ctx, q.partition)
	if err != nil {
		return err
	}
	if err := part.Put(ctx, recordKey(kind), cache.NewResponse(http.StatusOK, "application/json", body)); err != nil {
		return err
	}
	metrics.PendingRecords.WithLabelValues(string(kind)).Set(float64(len(records)))
	return nil
}

func (q *Queue) lockFor(locks map[Kind]*sync.Mutex, kind Kind) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()

	lock, ok := locks[kind]
	if !ok {
		lock = &sync.Mutex{}
		locks[kind] = lock
	}
	return lock
}

func recordKey(kind Kind) cache.Key {
	return cache.GetKey("/offline/" + string(kind))
}
