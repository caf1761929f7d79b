package session

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Storage keys shared with the login flow. These exact names are the interop
// contract with the web client's persisted state; do not rename.
const (
	keyAccessToken = "accessToken"
	keyRole        = "role"
	keyUser        = "user"
	keyUserID      = "userId"
)

// FileProvider persists the session as a flat JSON object keyed like the web
// client's local storage. Safe for concurrent use.
type FileProvider struct {
	mu   sync.Mutex
	path string

	subMu  sync.Mutex
	subs   map[int]func(Session)
	nextID int
}

var _ Provider = (*FileProvider)(nil)

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path, subs: make(map[int]func(Session))}
}

func (p *FileProvider) Get() (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := ioutil.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, ErrNoSession
		}
		return Session{}, errors.Wrap(err, "reading session file")
	}

	var kv map[string]string
	if err := json.Unmarshal(data, &kv); err != nil {
		return Session{}, errors.Wrap(err, "decoding session file")
	}

	sess := Session{
		UserID: kv[keyUserID],
		Role:   kv[keyRole],
		Token:  kv[keyAccessToken],
		User:   kv[keyUser],
	}
	if !sess.Authenticated() && sess.Role == "" && sess.User == "" {
		return Session{}, ErrNoSession
	}
	return sess, nil
}

func (p *FileProvider) Set(sess Session) error {
	p.mu.Lock()
	kv := map[string]string{
		keyAccessToken: sess.Token,
		keyRole:        sess.Role,
		keyUser:        sess.User,
		keyUserID:      sess.UserID,
	}
	data, err := json.MarshalIndent(kv, "", "  ")
	if err != nil {
		p.mu.Unlock()
		return errors.Wrap(err, "encoding session")
	}
	if err = p.writeAtomic(data); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	p.notify(sess)
	return nil
}

func (p *FileProvider) Clear() error {
	p.mu.Lock()
	err := os.Remove(p.path)
	p.mu.Unlock()
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing session file")
	}
	p.notify(Session{})
	return nil
}

func (p *FileProvider) OnChange(fn func(Session)) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.subs, id)
	}
}

func (p *FileProvider) notify(sess Session) {
	p.subMu.Lock()
	fns := make([]func(Session), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.subMu.Unlock()
	for _, fn := range fns {
		fn(sess)
	}
}

// writeAtomic writes via a temp file + rename so a crash mid-write never
// leaves a truncated session behind.
func (p *FileProvider) writeAtomic(data []byte) error {
	dir := filepath.Dir(p.path)
	tmp, err := ioutil.TempFile(dir, ".session-*")
	if err != nil {
		return errors.Wrap(err, "creating temp session file")
	}
	name := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return errors.Wrap(err, "writing session file")
	}
	if err = tmp.Close(); err != nil {
		os.Remove(name)
		return errors.Wrap(err, "closing session file")
	}
	if err = os.Rename(name, p.path); err != nil {
		os.Remove(name)
		return errors.Wrap(err, "replacing session file")
	}
	return nil
}
