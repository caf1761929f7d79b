package session

import "sync"

// MemoryProvider is an in-memory Provider for tests and the dev tooling.
type MemoryProvider struct {
	mu   sync.Mutex
	sess Session
	set  bool

	subs   map[int]func(Session)
	nextID int
}

var _ Provider = (*MemoryProvider)(nil)

func NewMemoryProvider(sess ...Session) *MemoryProvider {
	p := &MemoryProvider{subs: make(map[int]func(Session))}
	if len(sess) > 0 {
		p.sess = sess[0]
		p.set = true
	}
	return p
}

func (p *MemoryProvider) Get() (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.set {
		return Session{}, ErrNoSession
	}
	return p.sess, nil
}

func (p *MemoryProvider) Set(sess Session) error {
	p.mu.Lock()
	p.sess = sess
	p.set = true
	p.mu.Unlock()
	p.notify(sess)
	return nil
}

func (p *MemoryProvider) Clear() error {
	p.mu.Lock()
	p.sess = Session{}
	p.set = false
	p.mu.Unlock()
	p.notify(Session{})
	return nil
}

func (p *MemoryProvider) OnChange(fn func(Session)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *MemoryProvider) notify(sess Session) {
	p.mu.Lock()
	fns := make([]func(Session), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(sess)
	}
}
