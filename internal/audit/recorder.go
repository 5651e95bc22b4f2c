package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"trafi.io/internal/auth"
	"trafi.io/internal/ids"
	"trafi.io/internal/obs"
)

const (
	defaultQueueSize    = 1024
	defaultWorkers      = 2
	defaultWriteTimeout = 5 * time.Second
	errorBuffer         = 64
)

// Sink persists audit entries.
type Sink interface {
	AppendAuditLog(ctx context.Context, e Entry) error
}

// Request is what the transport knows about a finished request. It never
// carries the request body.
type Request struct {
	Method     string
	Path       string
	Action     string
	IPAddress  string
	UserAgent  string
	StatusCode int
	Started    time.Time
	Err        string
	Metadata   map[string]any
}

// Recorder hands audit entries to background workers so the response never
// waits on, or fails because of, audit persistence.
type Recorder struct {
	sink         Sink
	log          *zap.Logger
	now          func() time.Time
	writeTimeout time.Duration
	queueSize    int
	workers      int

	queue chan Entry
	errs  chan error
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithQueueSize bounds the number of entries waiting for a worker.
func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithWorkers sets the number of writer goroutines.
func WithWorkers(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithWriteTimeout bounds a single sink write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithLogger sets the logger for dropped and failed entries.
func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder starts the workers. Call Close to drain them.
func NewRecorder(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink:         sink,
		log:          zap.NewNop(),
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
		queueSize:    defaultQueueSize,
		workers:      defaultWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.queue = make(chan Entry, r.queueSize)
	r.errs = make(chan error, errorBuffer)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.run()
	}
	return r
}

// Log records req if it changed state inside an established request context.
// It reports whether an entry was queued.
func (r *Recorder) Log(ctx context.Context, req Request) bool {
	if r == nil || !ShouldAudit(req.Method) {
		return false
	}
	rc, ok := auth.Current(ctx)
	if !ok {
		return false
	}
	now := r.now().UTC()
	status := StatusSuccess
	if req.StatusCode >= 400 {
		status = StatusError
	}
	action := req.Action
	if action == "" {
		action = req.Method + " " + req.Path
	}
	meta := map[string]any{
		"method":      req.Method,
		"status_code": req.StatusCode,
		"principal":   string(rc.Kind),
	}
	if rc.Role != "" {
		meta["role"] = string(rc.Role)
	}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	var durationMs int64
	if !req.Started.IsZero() {
		durationMs = now.Sub(req.Started).Milliseconds()
	}
	return r.Enqueue(Entry{
		ID:           ids.New(),
		StoreID:      rc.TenantID,
		UserID:       rc.UserID,
		RequestID:    rc.RequestID,
		Action:       action,
		Resource:     ResourceFromPath(req.Path),
		Status:       status,
		DurationMs:   durationMs,
		IPAddress:    req.IPAddress,
		UserAgent:    truncate(req.UserAgent, MaxUserAgentLen),
		ErrorMessage: truncate(req.Err, MaxErrorMessageLen),
		Metadata:     meta,
		CreatedAt:    now,
	})
}

// Enqueue queues e without blocking. A full queue drops the entry.
func (r *Recorder) Enqueue(e Entry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- e:
		return true
	default:
		obs.AuditEvent("dropped")
		r.log.Warn("audit queue full, entry dropped",
			zap.String("request_id", e.RequestID),
			zap.String("store_id", e.StoreID),
			zap.String("action", e.Action),
		)
		return false
	}
}

// Errors delivers sink failures. Nobody has to read it; failures that do not
// fit the buffer are only logged.
func (r *Recorder) Errors() <-chan error { return r.errs }

// Close stops accepting entries and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for e := range r.queue {
		r.write(e)
	}
}

func (r *Recorder) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()
	if err := r.sink.AppendAuditLog(ctx, e); err != nil {
		obs.AuditEvent("failed")
		r.log.Error("audit write failed",
			zap.String("request_id", e.RequestID),
			zap.String("store_id", e.StoreID),
			zap.String("action", e.Action),
			zap.Error(err),
		)
		select {
		case r.errs <- fmt.Errorf("audit %s: %w", e.RequestID, err):
		default:
		}
		return
	}
	obs.AuditEvent("written")
}
