package markers

import "strconv"

// Busy records, per session, the chat message that started terminal work.
type Busy struct {
	d dir
}

func NewBusy(path string) *Busy {
	return &Busy{d: dir(path)}
}

func (b *Busy) Dir() string { return string(b.d) }

func (b *Busy) Set(session string, messageID int) error {
	return b.d.write(session, strconv.Itoa(messageID))
}

// Take reads and removes the marker. A marker with an unparseable value is
// removed and reported as present with message id 0.
func (b *Busy) Take(session string) (int, bool) {
	v, ok := b.d.read(session)
	if !ok {
		return 0, false
	}
	b.d.remove(session)
	id, err := strconv.Atoi(v)
	if err != nil {
		return 0, true
	}
	return id, true
}

func (b *Busy) Clear(session string) {
	b.d.remove(session)
}

func (b *Busy) Rename(oldName, newName string) error {
	return b.d.rename(oldName, newName)
}

// Sessions lists the sessions currently holding a busy marker.
func (b *Busy) Sessions() []string {
	return b.d.list()
}
