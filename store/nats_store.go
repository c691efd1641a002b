package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/msimon/polstore/policy"
)

const (
	// keyPrefix is the KV key prefix under which policy records live.
	keyPrefix = "policy"

	// defaultCacheTTL is the default read-cache time-to-live.
	defaultCacheTTL = 30 * time.Second

	// maxUpdateAttempts bounds the compare-and-swap retry loop in
	// FindOneAndUpdate.
	maxUpdateAttempts = 5
)

// NatsStoreConfig holds configuration for NatsStore.
type NatsStoreConfig struct {
	// Bucket is the name of the NATS KV bucket.
	Bucket string `json:"bucket"`

	// NatsURL is the NATS server URL (e.g., "nats://localhost:4222").
	NatsURL string `json:"natsUrl"`

	// NatsCredentials is the path to a NATS credentials file.
	// Mutually exclusive with NatsNkey.
	NatsCredentials string `json:"natsCredentials,omitempty"`

	// NatsNkey is the path to the nkey seed file for NATS authentication.
	// Mutually exclusive with NatsCredentials.
	NatsNkey string `json:"natsNkey,omitempty"`

	// CacheTTL is how long cached reads remain valid, as a duration
	// string (e.g., "30s", "1m"). Default: "30s".
	CacheTTL string `json:"cacheTtl,omitempty"`
}

// GetCacheTTL returns the cache TTL as a time.Duration, defaulting to 30s.
func (c *NatsStoreConfig) GetCacheTTL() time.Duration {
	if c.CacheTTL == "" {
		return defaultCacheTTL
	}
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d <= 0 {
		return defaultCacheTTL
	}
	return d
}

// NatsStore implements Store on a NATS JetStream KV bucket. One record
// is stored per policy; the KV entry revision backs the atomic
// compare-and-swap in FindOneAndUpdate. Reads go through a TTL cache
// invalidated by a bucket watcher.
type NatsStore struct {
	nc      *nats.Conn
	kv      jetstream.KeyValue
	cache   *cache
	config  NatsStoreConfig
	watcher jetstream.KeyWatcher
	done    chan struct{}
}

// NewNatsStore creates a NatsStore from the given configuration.
// The KV bucket must already exist.
func NewNatsStore(cfg NatsStoreConfig) (*NatsStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("nats store: bucket is required")
	}
	if cfg.NatsURL == "" {
		cfg.NatsURL = nats.DefaultURL
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NatsURL = url
	}
	if cfg.NatsCredentials != "" && cfg.NatsNkey != "" {
		return nil, fmt.Errorf("nats store: natsCredentials and natsNkey are mutually exclusive")
	}

	opts := []nats.Option{
		nats.Name("polstore"),
	}
	if cfg.NatsCredentials != "" {
		opts = append(opts, nats.UserCredentials(cfg.NatsCredentials))
	} else if cfg.NatsNkey != "" {
		opt, err := nats.NkeyOptionFromSeed(cfg.NatsNkey)
		if err != nil {
			return nil, fmt.Errorf("nats store: loading nkey from %s: %w", cfg.NatsNkey, err)
		}
		opts = append(opts, opt)
	}

	nc, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats store: connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats store: creating jetstream context: %w", err)
	}

	kv, err := js.KeyValue(context.Background(), cfg.Bucket)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats store: opening bucket %q: %w", cfg.Bucket, err)
	}

	s := &NatsStore{
		nc:     nc,
		kv:     kv,
		cache:  newCache(cfg.GetCacheTTL()),
		config: cfg,
		done:   make(chan struct{}),
	}

	if err := s.startWatcher(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats store: starting watcher: %w", err)
	}

	return s, nil
}

// Stop stops the KV watcher, closes the NATS connection, and clears the cache.
func (s *NatsStore) Stop() error {
	close(s.done)
	if s.watcher != nil {
		_ = s.watcher.Stop()
	}
	s.nc.Close()
	s.cache.clear()
	return nil
}

// Insert persists a new record for the document.
func (s *NatsStore) Insert(ctx context.Context, doc *policy.Document) (*Record, error) {
	now := time.Now().UTC()
	rec := Record{
		Document:  *doc,
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("encoding policy %s: %w", doc.Policy.PolicyID, err)
	}

	key := policyKey(doc.Policy.PolicyID)
	rev, err := s.kv.Create(ctx, key, data)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("inserting policy %s: %w", key, err)
	}

	rec.Revision = rev
	s.cache.put(key, &rec)

	cp := rec
	return &cp, nil
}

// FindOne returns the first record matching the filter.
func (s *NatsStore) FindOne(ctx context.Context, f Filter) (*Record, error) {
	if f.PolicyID != "" {
		rec, err := s.getRecord(ctx, f.PolicyID)
		if err != nil {
			return nil, err
		}
		if !f.Matches(rec) {
			return nil, ErrNotFound
		}
		return rec, nil
	}

	recs, err := s.FindMany(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// FindMany returns all records matching the filter, ordered by policy ID.
func (s *NatsStore) FindMany(ctx context.Context, f Filter) ([]*Record, error) {
	lister, err := s.kv.ListKeysFiltered(ctx, keyPrefix+".>")
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing policy keys: %w", err)
	}

	var out []*Record
	for key := range lister.Keys() {
		id, ok := policyIDFromKey(key)
		if !ok {
			continue
		}
		rec, err := s.getRecord(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Document.Policy.PolicyID < out[j].Document.Policy.PolicyID
	})
	return out, nil
}

// FindOneAndUpdate atomically applies the patch to the first matching
// record, using the KV entry revision as the compare-and-swap token.
// A concurrent writer that changes the record between read and write
// loses the race and the operation retries against the fresh state.
func (s *NatsStore) FindOneAndUpdate(ctx context.Context, f Filter, patch *policy.Patch) (*Record, error) {
	id := f.PolicyID
	if id == "" {
		target, err := s.FindOne(ctx, f)
		if err != nil {
			return nil, err
		}
		id = target.Document.Policy.PolicyID
	}
	key := policyKey(id)

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		// Read fresh, never through the cache: the revision must be
		// current for the swap to mean anything.
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("fetching policy %s: %w", key, err)
		}

		rec, err := decodeRecord(key, entry)
		if err != nil {
			return nil, err
		}
		if !f.Matches(rec) {
			return nil, ErrNotFound
		}

		merged := patch.Apply(&rec.Document)
		rec.Document = *merged
		rec.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encoding policy %s: %w", key, err)
		}

		rev, err := s.kv.Update(ctx, key, data, entry.Revision())
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				continue // lost the race, retry against fresh state
			}
			return nil, fmt.Errorf("updating policy %s: %w", key, err)
		}

		rec.Revision = rev
		s.cache.put(key, rec)

		cp := *rec
		return &cp, nil
	}

	return nil, fmt.Errorf("updating policy %s: too much contention", key)
}

// getRecord fetches one record from the cache or the KV bucket.
func (s *NatsStore) getRecord(ctx context.Context, id string) (*Record, error) {
	key := policyKey(id)

	if cached := s.cache.get(key); cached != nil {
		cp := *cached
		return &cp, nil
	}

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching policy %s: %w", key, err)
	}

	rec, err := decodeRecord(key, entry)
	if err != nil {
		return nil, err
	}

	s.cache.put(key, rec)

	cp := *rec
	return &cp, nil
}

func decodeRecord(key string, entry jetstream.KeyValueEntry) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("decoding policy %s: %w", key, err)
	}
	rec.Revision = entry.Revision()
	return &rec, nil
}

// startWatcher creates a KV watcher on the bucket for cache invalidation.
func (s *NatsStore) startWatcher() error {
	watcher, err := s.kv.WatchAll(context.Background(), jetstream.UpdatesOnly())
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	s.watcher = watcher

	go s.watchLoop()
	return nil
}

// watchLoop processes watcher updates and invalidates cache entries.
func (s *NatsStore) watchLoop() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		updates := s.watcher.Updates()
		for {
			select {
			case <-s.done:
				return
			case entry, ok := <-updates:
				if !ok {
					goto reconnect
				}
				if entry != nil {
					s.cache.invalidate(entry.Key())
				}
			}
		}

	reconnect:
		for {
			select {
			case <-s.done:
				return
			case <-time.After(backoff):
			}

			watcher, err := s.kv.WatchAll(context.Background(), jetstream.UpdatesOnly())
			if err != nil {
				log.Printf("nats store: watcher reconnect failed: %v", err)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}

			s.watcher = watcher
			backoff = time.Second
			break
		}
	}
}

// policyKey builds the KV key for a policy record.
func policyKey(id string) string {
	return keyPrefix + "." + id
}

// policyIDFromKey extracts the policy ID from a KV key.
// Returns ("", false) if the key does not match the expected pattern.
func policyIDFromKey(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, keyPrefix+".")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
