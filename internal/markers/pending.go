package markers

import (
	"strconv"
	"time"
)

const DefaultPendingTTL = 300 * time.Second

// Pending records that a permission prompt was shown for a session.
type Pending struct {
	d   dir
	ttl time.Duration
	now func() time.Time
}

func NewPending(path string) *Pending {
	return &Pending{d: dir(path), ttl: DefaultPendingTTL, now: time.Now}
}

// WithClock replaces the time source.
func (p *Pending) WithClock(now func() time.Time) *Pending {
	p.now = now
	return p
}

func (p *Pending) Mark(session string) error {
	return p.d.write(session, strconv.FormatInt(p.now().Unix(), 10))
}

// Consume removes the marker and reports whether it was present and fresh.
func (p *Pending) Consume(session string) bool {
	v, ok := p.d.read(session)
	if !ok {
		return false
	}
	p.d.remove(session)
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false
	}
	return p.now().Sub(time.Unix(ts, 0)) < p.ttl
}

func (p *Pending) Rename(oldName, newName string) error {
	return p.d.rename(oldName, newName)
}
