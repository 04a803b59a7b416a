package syncclient

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peopledesk/ticketd/internal/domain"
)

// AtBottomThresholdPx is how close to the end of the thread (in pixels) the
// viewport may sit and still count as "at the bottom" for auto-scroll.
const AtBottomThresholdPx = 10

// FallbackStore holds the last successfully fetched thread per ticket so a
// chat can still render something when the network is down.
type FallbackStore interface {
	Get(ticketID string) ([]domain.Message, bool)
	Put(ticketID string, msgs []domain.Message)
	Clear(ticketID string)
}

// MemoryFallback is the in-process FallbackStore.
type MemoryFallback struct {
	mu      sync.Mutex
	entries map[string][]domain.Message
}

// NewMemoryFallback initializes an empty fallback store.
func NewMemoryFallback() *MemoryFallback {
	return &MemoryFallback{entries: make(map[string][]domain.Message)}
}

func (m *MemoryFallback) Get(ticketID string) ([]domain.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, ok := m.entries[ticketID]
	return msgs, ok
}

func (m *MemoryFallback) Put(ticketID string, msgs []domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[ticketID] = append([]domain.Message(nil), msgs...)
}

func (m *MemoryFallback) Clear(ticketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ticketID)
}

type pendingMessage struct {
	msg       domain.Message
	sentAt    time.Time
	confirmed bool
}

// ChatSession tracks the open ticket thread: cached messages merged with
// unconfirmed optimistic sends, the unsent draft, and the scroll position
// bookkeeping that decides when to pin the view to the newest message.
type ChatSession struct {
	api      *Client
	cache    *Cache
	fallback FallbackStore

	mu       sync.Mutex
	selfID   string
	ticketID string
	draft    string
	pending  []pendingMessage

	scrollTop      int
	viewportHeight int
	contentHeight  int
	forceScroll    bool
	lastCount      int
}

// NewChatSession builds a session over the shared cache. A nil fallback
// gets an in-process store.
func NewChatSession(api *Client, cache *Cache, fallback FallbackStore) *ChatSession {
	if fallback == nil {
		fallback = NewMemoryFallback()
	}
	return &ChatSession{api: api, cache: cache, fallback: fallback}
}

// SetSelfID records the authenticated user so optimistic messages carry the
// right sender.
func (s *ChatSession) SetSelfID(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfID = userID
}

// SetTicket switches the session to another ticket's thread. Pending sends,
// the draft and the scroll counters belong to the previous thread and are
// reset; the next batch of messages pins the view to the bottom.
func (s *ChatSession) SetTicket(ticketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticketID == ticketID {
		return
	}
	s.ticketID = ticketID
	s.pending = nil
	s.draft = ""
	s.lastCount = 0
	s.forceScroll = true
	if ticketID == "" {
		return
	}
	s.cache.Register(MessagesKey(ticketID), func(ctx context.Context) (any, error) {
		msgs, err := s.api.ListMessages(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		domain.SortMessages(msgs)
		return msgs, nil
	})
}

// TicketID returns the ticket the session is currently showing.
func (s *ChatSession) TicketID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticketID
}

// Refresh fetches the open thread and, on success, records it in the
// fallback store.
func (s *ChatSession) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	ticketID := s.ticketID
	s.mu.Unlock()
	if ticketID == "" {
		return Snapshot{}, nil
	}
	snap, err := s.cache.FetchRegistered(ctx, MessagesKey(ticketID))
	if err == nil {
		if msgs, ok := snap.Value.([]domain.Message); ok {
			s.fallback.Put(ticketID, msgs)
		}
	}
	return snap, err
}

// Poller builds a poller that refreshes whichever thread is open.
func (s *ChatSession) Poller(interval time.Duration) *Poller {
	return NewPoller(interval, func(ctx context.Context) {
		s.Refresh(ctx) //nolint:errcheck
	})
}

// Messages returns the thread in send order: the cached server state (or the
// fallback copy when the last fetch failed and nothing is cached) merged
// with optimistic sends the server has not echoed back yet.
func (s *ChatSession) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticketID == "" {
		return nil
	}

	snap := s.cache.Get(MessagesKey(s.ticketID))
	server, ok := snap.Value.([]domain.Message)
	if !ok && snap.Err != nil {
		server, _ = s.fallback.Get(s.ticketID)
	}

	merged := append([]domain.Message(nil), server...)
	remaining := s.pending[:0]
	for _, p := range s.pending {
		if echoed(server, p) {
			continue
		}
		remaining = append(remaining, p)
		merged = append(merged, p.msg)
	}
	s.pending = remaining
	domain.SortMessages(merged)
	return merged
}

// echoed reports whether the server list already contains a pending send.
// Confirmed sends match by the server-assigned ID; unconfirmed ones match by
// sender and content on a message no older than the send.
func echoed(server []domain.Message, p pendingMessage) bool {
	for _, m := range server {
		if p.confirmed && m.ID == p.msg.ID {
			return true
		}
		if !p.confirmed && m.SenderID == p.msg.SenderID && m.Content == p.msg.Content &&
			!m.CreatedAt.Before(p.sentAt.Add(-time.Minute)) {
			return true
		}
	}
	return false
}

// SetDraft stores the unsent input text.
func (s *ChatSession) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
}

// Draft returns the unsent input text.
func (s *ChatSession) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SendMessage appends the content optimistically, then confirms with the
// server. Whitespace-only content is a no-op. On failure the optimistic
// entry is dropped and the content is restored as the draft so nothing the
// user typed is lost.
func (s *ChatSession) SendMessage(ctx context.Context, content string) (domain.Message, error) {
	content = strings.TrimSpace(content)

	s.mu.Lock()
	ticketID := s.ticketID
	if content == "" || ticketID == "" {
		s.mu.Unlock()
		return domain.Message{}, nil
	}
	p := pendingMessage{
		msg: domain.Message{
			ID:        "pending-" + uuid.NewString(),
			TicketID:  ticketID,
			SenderID:  s.selfID,
			Content:   content,
			CreatedAt: time.Now(),
		},
		sentAt: time.Now(),
	}
	s.pending = append(s.pending, p)
	s.draft = ""
	s.mu.Unlock()

	msg, err := s.api.SendMessage(ctx, ticketID, content)

	s.mu.Lock()
	idx := s.pendingIndex(p.msg.ID)
	if err != nil {
		if idx >= 0 {
			s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
		}
		if s.ticketID == ticketID && s.draft == "" {
			s.draft = content
		}
		s.mu.Unlock()
		return domain.Message{}, err
	}
	if idx >= 0 {
		// Swap in the server copy; it leaves the pending list once a
		// refetch echoes it back.
		s.pending[idx] = pendingMessage{msg: msg, sentAt: p.sentAt, confirmed: true}
	}
	s.mu.Unlock()

	s.cache.Invalidate(ctx, MessagesKey(ticketID))
	return msg, nil
}

func (s *ChatSession) pendingIndex(id string) int {
	for i, p := range s.pending {
		if p.msg.ID == id {
			return i
		}
	}
	return -1
}

// UpdateScroll records the viewport geometry reported by the UI.
func (s *ChatSession) UpdateScroll(scrollTop, viewportHeight, contentHeight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrollTop = scrollTop
	s.viewportHeight = viewportHeight
	s.contentHeight = contentHeight
}

// AtBottom reports whether the viewport sits within AtBottomThresholdPx of
// the end of the thread. An unmeasured viewport counts as at the bottom.
func (s *ChatSession) AtBottom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atBottomLocked()
}

func (s *ChatSession) atBottomLocked() bool {
	if s.contentHeight == 0 {
		return true
	}
	return s.contentHeight-(s.scrollTop+s.viewportHeight) <= AtBottomThresholdPx
}

// AutoScroll is called with the rendered message count after each update. It
// reports whether the view should jump to the newest message: always on the
// first render after a ticket switch, and on growth only while the user is
// already reading the bottom of the thread.
func (s *ChatSession) AutoScroll(messageCount int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	grew := messageCount > s.lastCount
	s.lastCount = messageCount
	if s.forceScroll {
		s.forceScroll = false
		return true
	}
	return grew && s.atBottomLocked()
}

// Evict removes a ticket's thread from the cache and the fallback store. A
// later SetTicket for the same ID starts from a clean fetch.
func (s *ChatSession) Evict(ticketID string) {
	s.cache.Remove(MessagesKey(ticketID))
	s.fallback.Clear(ticketID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticketID == ticketID {
		s.ticketID = ""
		s.pending = nil
		s.draft = ""
		s.lastCount = 0
	}
}
