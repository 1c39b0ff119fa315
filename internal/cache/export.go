package cache

import (
	"time"

	"github.com/goccy/go-json"

	"content-threat-detection/internal/detector"
)

// exportedEntry is the persisted form of one cache entry.
type exportedEntry struct {
	Key        string                    `json:"key"`
	Result     *detector.DetectionResult `json:"result"`
	InsertedAt time.Time                 `json:"inserted_at"`
}

// Export serializes all unexpired entries, least-recently-used first, so a
// subsequent Import rebuilds the same recency order. Optional persistence
// only; the cache is correct without it.
func (c *PatternCache) Export() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]exportedEntry, 0, len(c.entries))
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		ent := elem.Value.(*entry)
		if time.Since(ent.insertedAt) > c.cfg.TTL {
			continue
		}
		out = append(out, exportedEntry{
			Key:        ent.key,
			Result:     ent.result,
			InsertedAt: ent.insertedAt,
		})
	}
	return json.Marshal(out)
}

// Import loads entries produced by Export, dropping any that have expired
// in the meantime. Existing entries with the same key are overwritten.
func (c *PatternCache) Import(data []byte) (int, error) {
	var in []exportedEntry
	if err := json.Unmarshal(data, &in); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	loaded := 0
	for _, exp := range in {
		if exp.Result == nil || exp.Key == "" {
			continue
		}
		if time.Since(exp.InsertedAt) > c.cfg.TTL {
			continue
		}
		if elem, ok := c.entries[exp.Key]; ok {
			c.removeLocked(elem)
		}
		for len(c.entries) >= c.cfg.MaxSize {
			oldest := c.order.Back()
			if oldest == nil {
				break
			}
			c.removeLocked(oldest)
			c.evictions++
		}
		elem := c.order.PushFront(&entry{
			key:        exp.Key,
			result:     exp.Result,
			insertedAt: exp.InsertedAt,
		})
		c.entries[exp.Key] = elem
		c.memEstimate += estimateSize(exp.Result)
		loaded++
	}
	return loaded, nil
}
