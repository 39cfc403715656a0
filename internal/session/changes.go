package session

import "context"

// Changes subscribes to state changes. The channel holds at most one pending
// signal, so a slow reader sees one wake-up for any number of changes and
// should read the current View after each receive. cancel unsubscribes and
// closes the channel.
func (s *Session) Changes() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	cancel := func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *Session) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// commit publishes a state change and then writes its snapshot, if any.
func (s *Session) commit(ctx context.Context, p *pendingSave) {
	s.notify()
	s.persist(ctx, p)
}
