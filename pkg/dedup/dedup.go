// Package dedup drops messages already seen within a TTL (QoS1 redeliveries).
package dedup

import (
	"strconv"
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	now  func() time.Time
	seen map[string]time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, now: time.Now, seen: make(map[string]time.Time, max)}
}

// WithClock sostituisce l'orologio (test).
func (d *Deduper) WithClock(now func() time.Time) *Deduper {
	d.now = now
	return d
}

// MessageKey identifies an MQTT delivery by topic and packet id. Packet id 0
// (QoS0) has no identity and yields "".
func MessageKey(topic string, id uint16) string {
	if id == 0 {
		return ""
	}
	return topic + "#" + strconv.FormatUint(uint64(id), 10)
}

// ShouldProcess reports whether id is new (or expired) and marks it as seen.
// An empty id is always processed.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false
	}
	d.remember(id, now)
	return true
}

// Mark records id as seen without checking it. Il broker riusa i packet id:
// un messaggio nuovo con un id già visto rinnova la scadenza.
func (d *Deduper) Mark(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remember(id, d.now())
}

func (d *Deduper) remember(id string, now time.Time) {
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		d.evict(now)
	}
}

// evict drops expired ids first, then the ones closest to expiry.
func (d *Deduper) evict(now time.Time) {
	for k, v := range d.seen {
		if !now.Before(v) {
			delete(d.seen, k)
		}
	}
	for len(d.seen) > d.max {
		var (
			oldest    string
			oldestExp time.Time
		)
		for k, v := range d.seen {
			if oldest == "" || v.Before(oldestExp) {
				oldest, oldestExp = k, v
			}
		}
		delete(d.seen, oldest)
	}
}

func (d *Deduper) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
