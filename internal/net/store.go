package net

import (
	"sort"
	"time"

	"github.com/l1jgo/realm/internal/net/packet"
)

// SessionStore is the dispatcher's session table. It is owned by the tick
// goroutine and needs no locking.
type SessionStore struct {
	byID      map[uint64]*Session
	byAccount map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		byID:      make(map[uint64]*Session),
		byAccount: make(map[string]*Session),
	}
}

// Add registers s. An account binding never displaces another live
// session; callers refuse such a session before adding it.
func (st *SessionStore) Add(s *Session) {
	st.byID[s.ID] = s
	if s.AccountName != "" && st.ByAccount(s.AccountName) == nil {
		st.byAccount[s.AccountName] = s
	}
}

// BindAccount records that s is now logged in as account.
func (st *SessionStore) BindAccount(s *Session, account string) {
	s.AccountName = account
	st.byAccount[account] = s
}

// ByAccount returns the live session logged in as account.
func (st *SessionStore) ByAccount(account string) *Session {
	s := st.byAccount[account]
	if s == nil || s.IsClosed() {
		return nil
	}
	return s
}

func (st *SessionStore) Get(id uint64) *Session {
	return st.byID[id]
}

func (st *SessionStore) Remove(id uint64) {
	s, ok := st.byID[id]
	if !ok {
		return
	}
	delete(st.byID, id)
	if s.AccountName != "" && st.byAccount[s.AccountName] == s {
		delete(st.byAccount, s.AccountName)
	}
}

func (st *SessionStore) Len() int {
	return len(st.byID)
}

// Each visits sessions in ascending id order.
func (st *SessionStore) Each(fn func(*Session)) {
	ids := make([]uint64, 0, len(st.byID))
	for id := range st.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(st.byID[id])
	}
}

// Closing returns every session that has started closing.
func (st *SessionStore) Closing() []*Session {
	var out []*Session
	st.Each(func(s *Session) {
		if s.IsClosed() {
			out = append(out, s)
		}
	})
	return out
}

// HeartbeatSweep closes every open session with no inbound traffic within
// window of now and returns them. Their entities are removed at the next
// cleanup phase.
func (st *SessionStore) HeartbeatSweep(now time.Time, window time.Duration) []*Session {
	var expired []*Session
	for _, s := range st.byID {
		if s.IsClosed() || s.State() >= packet.StateClosing {
			continue
		}
		if now.Sub(s.LastInbound()) > window {
			s.log.Info("心跳逾時，關閉連線")
			s.Close()
			expired = append(expired, s)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired
}
