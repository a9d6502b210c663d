// Package engine implements the chat synchronization controller: the
// long-lived owner of one session's message collection, status machine and
// draft, reconciling local optimistic state with the remote feed.
//
// All session state lives behind one mutex and is only ever mutated through
// the reconciliation primitives in package chat, so uniqueness and ordering
// invariants hold on every mutation path. The presentation boundary gets a
// read-only View plus a handful of operations; there are no raw setters.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"doodle/cmd/internal/chat"
	"doodle/cmd/internal/feed"
	"doodle/cmd/internal/snapshot"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

const (
	// DefaultPageSize bounds every feed query.
	DefaultPageSize = 40
	// DefaultPollInterval is the forward-poll cadence while ready.
	DefaultPollInterval = 5 * time.Second

	errNotConfiguredMsg = "Set your API base URL and token to load messages."
	errSendConfigMsg    = "Set your API base URL and token before sending."
	errFallbackMsg      = "Something went wrong."
)

// Feed is the engine's sole network collaborator.
// *feed.Client satisfies it.
type Feed interface {
	List(ctx context.Context, q feed.Query) ([]chat.Raw, error)
	Post(ctx context.Context, message, author string) (chat.Raw, error)
	Configured() bool
}

// Config tunes one controller instance.
type Config struct {
	// Author is the local user name stamped on outgoing messages.
	Author string
	// PageSize bounds feed queries. Zero means DefaultPageSize.
	PageSize int
	// PollInterval is the forward-poll cadence. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration
}

func (c Config) pageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return DefaultPageSize
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return DefaultPollInterval
}

// View is an immutable snapshot of the session state exposed to the
// presentation boundary.
type View struct {
	Status         Status         `json:"status"`
	Draft          string         `json:"draft"`
	Messages       []chat.Message `json:"messages"`
	Error          string         `json:"error,omitempty"`
	HasOlder       bool           `json:"has_older"`
	IsSending      bool           `json:"is_sending"`
	IsLoadingOlder bool           `json:"is_loading_older"`
	UnreadCount    int            `json:"unread_count"`
	CanSend        bool           `json:"can_send"`
	ScrollToLatest bool           `json:"scroll_to_latest"`
}

// Controller owns one chat session. Construct with New, drive with Run,
// and tear down by cancelling Run's context.
type Controller struct {
	cfg     Config
	log     *slog.Logger
	feed    Feed
	store   snapshot.Store
	metrics *metrics

	// now is the clock; overridable in tests.
	now func() time.Time

	mu             sync.Mutex
	status         Status
	messages       []chat.Message
	draft          string
	errMsg         string
	hasOlder       bool
	isSending      bool
	isLoadingOlder bool
	pollInFlight   bool
	unreadCount    int
	atBottom       bool
	scrollToLatest bool
}

// New constructs a Controller. The snapshot store may be nil to disable
// persistence; reg may be nil to skip metrics registration.
func New(cfg Config, log *slog.Logger, f Feed, store snapshot.Store, reg prometheus.Registerer) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		log:      log,
		feed:     f,
		store:    store,
		metrics:  newMetrics(reg),
		now:      time.Now,
		status:   StatusIdle,
		hasOlder: true,
		atBottom: true,
	}
}

// Run restores the persisted snapshot, performs the initial load and then
// polls for newer messages until ctx is cancelled. It always returns nil
// after a clean shutdown; initialization failures are surfaced through the
// View, not as a return value, because the session keeps running in the
// error state.
func (c *Controller) Run(ctx context.Context) error {
	c.restore(ctx)
	c.initialize(ctx)

	ticker := time.NewTicker(c.cfg.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("engine.stop")
			return nil
		case <-ticker.C:
			if c.currentStatus() != StatusReady {
				continue
			}
			// Run the poll off the ticker goroutine so a slow response
			// delays nothing; the single-flight guard skips overlap.
			go c.PollNewer(ctx)
		}
	}
}

// restore installs the persisted draft and messages before the first fetch
// so the session is usable offline. Storage problems are absorbed.
func (c *Controller) restore(ctx context.Context) {
	if c.store == nil {
		return
	}
	st, err := c.store.Load(ctx)
	if err != nil {
		c.log.Debug("engine.restore.fail", "err", err)
		return
	}

	c.mu.Lock()
	c.draft = st.Draft
	c.messages = chat.Sort(st.Messages)
	c.mu.Unlock()

	if len(st.Messages) > 0 || st.Draft != "" {
		c.log.Info("engine.restore", "messages", len(st.Messages))
	}
}

// initialize fetches the most recent page and installs it as the session's
// message collection. A cancelled context discards the result without any
// state mutation.
func (c *Controller) initialize(ctx context.Context) {
	if !c.feed.Configured() {
		c.setState(func() {
			c.status = StatusError
			c.errMsg = errNotConfiguredMsg
		})
		c.log.Error("engine.init.fail", "reason", "not_configured")
		return
	}

	c.setState(func() {
		c.status = StatusLoading
		c.errMsg = ""
	})

	raws, err := c.feed.List(ctx, feed.Query{Limit: c.cfg.pageSize()})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.setState(func() {
			c.status = StatusError
			c.errMsg = errorMessage(err)
		})
		c.log.Error("engine.init.fail", "err", err)
		return
	}

	msgs := normalizeAll(raws)
	c.setState(func() {
		c.messages = chat.Sort(msgs)
		c.hasOlder = len(raws) >= c.cfg.pageSize()
		c.status = StatusReady
		c.errMsg = ""
		c.scrollToLatest = true
	})
	c.persist(ctx)
	c.log.Info("engine.init", "messages", len(msgs), "has_older", len(raws) >= c.cfg.pageSize())
}

// PollNewer fetches messages newer than the last known one and merges them
// in. It is a no-op when the collection is empty (no cursor) or when a
// poll is already in flight. Failures surface through the View's error but
// never change the session status.
func (c *Controller) PollNewer(ctx context.Context) {
	c.mu.Lock()
	if c.pollInFlight || len(c.messages) == 0 {
		c.mu.Unlock()
		return
	}
	c.pollInFlight = true
	after := c.messages[len(c.messages)-1].CreatedAt
	c.mu.Unlock()

	c.metrics.polls.Inc()
	raws, err := c.feed.List(ctx, feed.Query{After: after, Limit: c.cfg.pageSize()})

	c.mu.Lock()
	c.pollInFlight = false
	if err != nil {
		c.errMsg = errorMessage(err)
		c.mu.Unlock()
		c.metrics.pollFailures.Inc()
		c.log.Warn("engine.poll.fail", "err", err)
		return
	}
	c.errMsg = ""
	if len(raws) > 0 {
		c.mergeLocked(normalizeAll(raws), true)
	}
	c.mu.Unlock()

	if len(raws) > 0 {
		c.persist(ctx)
		c.log.Info("engine.poll", "fetched", len(raws))
	}
}

// LoadOlder fetches the page before the first known message. Concurrent
// calls are a silent no-op (in-flight guard), as is a call with an empty
// collection.
func (c *Controller) LoadOlder(ctx context.Context) {
	c.mu.Lock()
	if c.isLoadingOlder || len(c.messages) == 0 || c.status != StatusReady {
		c.mu.Unlock()
		return
	}
	c.isLoadingOlder = true
	before := c.messages[0].CreatedAt
	c.mu.Unlock()

	raws, err := c.feed.List(ctx, feed.Query{Before: before, Limit: c.cfg.pageSize()})

	c.mu.Lock()
	c.isLoadingOlder = false
	if err != nil {
		c.errMsg = errorMessage(err)
		c.mu.Unlock()
		c.log.Warn("engine.older.fail", "err", err)
		return
	}
	c.errMsg = ""
	if len(raws) > 0 {
		c.mergeLocked(normalizeAll(raws), false)
		c.hasOlder = len(raws) >= c.cfg.pageSize()
	} else {
		c.hasOlder = false
	}
	c.mu.Unlock()

	c.persist(ctx)
	c.log.Info("engine.older", "fetched", len(raws))
}

// Send submits the current draft with optimistic local echo.
//
// The optimistic entry is merged into the collection before any network
// round-trip. On success with a server record, the entry is replaced by
// the normalized record. On success without a parseable record, a forward
// poll reconciles instead and the placeholder stays pending until the poll
// discovers the real record. On failure the same entry is rewritten in
// place to failed, keeping its position.
func (c *Controller) Send(ctx context.Context) {
	c.mu.Lock()
	text := strings.TrimSpace(c.draft)
	if text == "" || c.isSending {
		c.mu.Unlock()
		return
	}
	if !c.feed.Configured() {
		c.errMsg = errSendConfigMsg
		c.mu.Unlock()
		return
	}

	now := c.now()
	optimistic := chat.Message{
		ID:        chat.NewOptimisticID(now),
		Author:    c.cfg.Author,
		Message:   text,
		CreatedAt: chat.Timestamp(now),
		Pending:   true,
	}
	c.draft = ""
	c.isSending = true
	c.mergeLocked([]chat.Message{optimistic}, true)
	c.mu.Unlock()

	c.persist(ctx)
	c.metrics.sends.Inc()

	record, err := c.feed.Post(ctx, text, c.cfg.Author)

	if err != nil {
		c.mu.Lock()
		c.isSending = false
		c.errMsg = errorMessage(err)
		c.markFailedLocked(optimistic.ID)
		c.mu.Unlock()
		c.persist(ctx)
		c.metrics.sendFailures.Inc()
		c.log.Warn("engine.send.fail", "err", err)
		return
	}

	if record != nil {
		confirmed := chat.Normalize(record)
		c.mu.Lock()
		c.isSending = false
		c.errMsg = ""
		c.removeLocked(optimistic.ID)
		c.mergeLocked([]chat.Message{confirmed}, true)
		c.scrollToLatest = true
		c.mu.Unlock()
		c.persist(ctx)
		c.log.Info("engine.send", "id", confirmed.ID)
		return
	}

	// No record in the response body: reconcile through a poll. The
	// placeholder remains pending until the poll finds the real record.
	c.mu.Lock()
	c.isSending = false
	c.errMsg = ""
	c.scrollToLatest = true
	c.mu.Unlock()
	c.log.Info("engine.send", "id", optimistic.ID, "reconcile", "poll")
	c.PollNewer(ctx)
}

// SetDraft replaces the draft text.
func (c *Controller) SetDraft(ctx context.Context, draft string) {
	c.mu.Lock()
	c.draft = draft
	c.mu.Unlock()
	c.persist(ctx)
}

// SetViewportAtBottom is the single feedback flag from the presentation
// layer: whether the viewport is scrolled to the latest message. At the
// bottom, the unread count is suppressed.
func (c *Controller) SetViewportAtBottom(atBottom bool) {
	c.mu.Lock()
	c.atBottom = atBottom
	if atBottom {
		c.unreadCount = 0
	}
	c.mu.Unlock()
}

// AckScroll consumes the scroll-to-latest signal after the presentation
// layer performed it.
func (c *Controller) AckScroll() {
	c.mu.Lock()
	c.scrollToLatest = false
	c.mu.Unlock()
}

// View returns a copy of the exposed session state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]chat.Message, len(c.messages))
	copy(msgs, c.messages)

	return View{
		Status:         c.status,
		Draft:          c.draft,
		Messages:       msgs,
		Error:          c.errMsg,
		HasOlder:       c.hasOlder,
		IsSending:      c.isSending,
		IsLoadingOlder: c.isLoadingOlder,
		UnreadCount:    c.unreadCount,
		CanSend:        strings.TrimSpace(c.draft) != "" && c.feed.Configured() && !c.isSending,
		ScrollToLatest: c.scrollToLatest,
	}
}

func (c *Controller) currentStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// mergeLocked merges incoming into the collection and does the
// unread/scroll bookkeeping for forward growth. Caller holds c.mu.
func (c *Controller) mergeLocked(incoming []chat.Message, countUnread bool) {
	before := len(c.messages)
	c.messages = chat.Merge(c.messages, incoming)

	added := len(c.messages) - before
	if added <= 0 {
		return
	}
	c.metrics.messagesMerged.Add(float64(added))
	if !countUnread {
		return
	}
	if c.atBottom {
		c.scrollToLatest = true
	} else {
		c.unreadCount += added
	}
}

// markFailedLocked rewrites the optimistic entry in place, preserving its
// position in the ordered collection. Caller holds c.mu.
func (c *Controller) markFailedLocked(id string) {
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages[i].Pending = false
			c.messages[i].Failed = true
			return
		}
	}
}

// removeLocked drops the message with the given id. Caller holds c.mu.
func (c *Controller) removeLocked(id string) {
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

// setState runs fn under the state mutex.
func (c *Controller) setState(fn func()) {
	c.mu.Lock()
	fn()
	c.mu.Unlock()
}

// persist mirrors draft and messages into the snapshot store.
// Best-effort: failures are counted and logged at debug, never surfaced.
func (c *Controller) persist(ctx context.Context) {
	if c.store == nil {
		return
	}

	c.mu.Lock()
	st := snapshot.State{
		Draft:    c.draft,
		Messages: make([]chat.Message, len(c.messages)),
	}
	copy(st.Messages, c.messages)
	c.mu.Unlock()

	if err := c.store.Save(ctx, st); err != nil {
		c.metrics.snapshotFailures.Inc()
		c.log.Debug("engine.snapshot.fail", "err", err)
	}
}

func normalizeAll(raws []chat.Raw) []chat.Message {
	msgs := make([]chat.Message, len(raws))
	for i, raw := range raws {
		msgs[i] = chat.Normalize(raw)
	}
	return msgs
}

func errorMessage(err error) string {
	if err == nil {
		return errFallbackMsg
	}
	return err.Error()
}
