package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
	"github.com/vnykmshr/powerpool/pkg/common/validation"
	"github.com/vnykmshr/powerpool/pkg/scheduling/powerpool"
)

const module = "redisstore"

// scanBatch is the COUNT hint used when Clear walks the key space.
const scanBatch = 256

// Config holds configuration for a Store.
type Config struct {
	// Redis client used for every operation.
	Redis redis.UniversalClient

	// Prefix namespaces the keys of this store.
	Prefix string

	// TTL is how long a stored result lives (defaults to 24 hours).
	TTL time.Duration

	// Timeout bounds each Redis round trip (defaults to 500ms).
	Timeout time.Duration
}

// DefaultConfig returns a Config with the default prefix and timings. The
// Redis client still has to be set.
func DefaultConfig() Config {
	return Config{
		Prefix:  "powerpool:results",
		TTL:     24 * time.Hour,
		Timeout: 500 * time.Millisecond,
	}
}

// Store is a powerpool.ResultStore backed by Redis hashes.
type Store struct {
	config Config
}

var _ powerpool.ResultStore = (*Store)(nil)

// New validates config and returns a Store. It does not contact Redis.
func New(config Config) (*Store, error) {
	if config.Redis == nil {
		return nil, validation.ValidateNotNil(module, "Redis", nil)
	}
	if err := validation.ValidateNonNegativeDuration(module, "TTL", config.TTL); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegativeDuration(module, "Timeout", config.Timeout); err != nil {
		return nil, err
	}

	defaults := DefaultConfig()
	if config.Prefix == "" {
		config.Prefix = defaults.Prefix
	}
	if config.TTL == 0 {
		config.TTL = defaults.TTL
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	return &Store{config: config}, nil
}

func (s *Store) key(id powerpool.WorkID) (string, error) {
	text, err := id.MarshalText()
	if err != nil {
		return "", err
	}
	return s.config.Prefix + ":" + string(text), nil
}

func (s *Store) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.config.Timeout)
}

// Put writes result and resets its expiry.
func (s *Store) Put(result powerpool.ExecuteResult) error {
	key, err := s.key(result.ID)
	if err != nil {
		return gferrors.NewOperationError(module, "Put", err)
	}
	fields, err := encode(result)
	if err != nil {
		return gferrors.NewOperationError(module, "Put", err).WithContext(key)
	}

	ctx, cancel := s.opContext()
	defer cancel()

	pipe := s.config.Redis.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.config.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return gferrors.NewOperationError(module, "Put", err).WithContext(key)
	}
	return nil
}

// Get reads the result stored for id. A missing or expired key reports
// false with a nil error.
func (s *Store) Get(id powerpool.WorkID) (powerpool.ExecuteResult, bool, error) {
	key, err := s.key(id)
	if err != nil {
		return powerpool.ExecuteResult{}, false, gferrors.NewOperationError(module, "Get", err)
	}

	ctx, cancel := s.opContext()
	defer cancel()

	fields, err := s.config.Redis.HGetAll(ctx, key).Result()
	if err != nil {
		return powerpool.ExecuteResult{}, false, gferrors.NewOperationError(module, "Get", err).WithContext(key)
	}
	if len(fields) == 0 {
		return powerpool.ExecuteResult{}, false, nil
	}
	res, err := decode(fields)
	if err != nil {
		return powerpool.ExecuteResult{}, false, gferrors.NewOperationError(module, "Get", err).WithContext(key)
	}
	return res, true, nil
}

// Delete removes the result for id, if any.
func (s *Store) Delete(id powerpool.WorkID) error {
	key, err := s.key(id)
	if err != nil {
		return gferrors.NewOperationError(module, "Delete", err)
	}
	ctx, cancel := s.opContext()
	defer cancel()
	if err := s.config.Redis.Del(ctx, key).Err(); err != nil {
		return gferrors.NewOperationError(module, "Delete", err).WithContext(key)
	}
	return nil
}

// Clear removes every result under the store prefix. Each SCAN step gets
// its own timeout.
func (s *Store) Clear() error {
	var cursor uint64
	match := s.config.Prefix + ":*"
	for {
		ctx, cancel := s.opContext()
		keys, next, err := s.config.Redis.Scan(ctx, cursor, match, scanBatch).Result()
		if err == nil && len(keys) > 0 {
			err = s.config.Redis.Unlink(ctx, keys...).Err()
		}
		cancel()
		if err != nil {
			return gferrors.NewOperationError(module, "Clear", err).WithContext(match)
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Hash field names.
const (
	fieldID        = "id"
	fieldStatus    = "status"
	fieldResult    = "result"
	fieldError     = "error"
	fieldPriority  = "priority"
	fieldWorkerID  = "worker_id"
	fieldRetry     = "retry"
	fieldQueueTime = "queue_time"
	fieldStartTime = "start_time"
	fieldEndTime   = "end_time"
)

func encode(res powerpool.ExecuteResult) (map[string]any, error) {
	id, err := res.ID.MarshalText()
	if err != nil {
		return nil, err
	}
	status, err := res.Status.MarshalText()
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		fieldID:        string(id),
		fieldStatus:    string(status),
		fieldPriority:  res.Priority,
		fieldWorkerID:  res.WorkerID,
		fieldQueueTime: unixNano(res.QueueTime),
		fieldStartTime: unixNano(res.StartTime),
		fieldEndTime:   unixNano(res.EndTime),
	}
	if res.Result != nil {
		data, err := json.Marshal(res.Result)
		if err != nil {
			return nil, err
		}
		fields[fieldResult] = data
	}
	if res.Err != nil {
		fields[fieldError] = res.Err.Error()
	}
	if res.Retry != nil {
		data, err := json.Marshal(res.Retry)
		if err != nil {
			return nil, err
		}
		fields[fieldRetry] = data
	}
	return fields, nil
}

func decode(fields map[string]string) (powerpool.ExecuteResult, error) {
	var res powerpool.ExecuteResult
	if err := res.ID.UnmarshalText([]byte(fields[fieldID])); err != nil {
		return res, err
	}
	if err := res.Status.UnmarshalText([]byte(fields[fieldStatus])); err != nil {
		return res, err
	}

	var err error
	if res.Priority, err = atoi(fields[fieldPriority]); err != nil {
		return res, err
	}
	if res.WorkerID, err = atoi(fields[fieldWorkerID]); err != nil {
		return res, err
	}
	for field, dst := range map[string]*time.Time{
		fieldQueueTime: &res.QueueTime,
		fieldStartTime: &res.StartTime,
		fieldEndTime:   &res.EndTime,
	} {
		if *dst, err = fromUnixNano(fields[field]); err != nil {
			return res, err
		}
	}

	if data, ok := fields[fieldResult]; ok {
		if err := json.Unmarshal([]byte(data), &res.Result); err != nil {
			return res, err
		}
	}
	if msg, ok := fields[fieldError]; ok {
		res.Err = errors.New(msg)
	}
	if data, ok := fields[fieldRetry]; ok {
		res.Retry = &powerpool.RetryInfo{}
		if err := json.Unmarshal([]byte(data), res.Retry); err != nil {
			return res, err
		}
	}
	return res, nil
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(s string) (time.Time, error) {
	if s == "" || s == "0" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n), nil
}
