package partstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fjmerc/partstream/internal/partplan"
)

const (
	defaultConcurrency  = 3
	defaultPartRetries  = 3
	defaultRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff     = 30 * time.Second
)

func (o UploadOptions) withDefaults() UploadOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.PartRetries < 0 {
		o.PartRetries = 0
	} else if o.PartRetries == 0 {
		o.PartRetries = defaultPartRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
	return o
}

// Upload sends size bytes from src as a multipart upload and completes it.
//
// Parts run concurrently, each retried on transient failures. When
// opts.Resume is set the session is continued: parts the server already
// holds with the planned size are skipped.
//
// On failure or cancellation the session is never completed and the
// returned *UploadError carries the state needed to resume.
//
// Example:
//
//	obj, err := client.Upload(ctx, f, info.Size(), partstream.UploadOptions{
//	    Filename: "backup.tar",
//	    OnProgress: func(p partstream.Progress) {
//	        fmt.Printf("\r%d/%d bytes", p.BytesDone, p.BytesTotal)
//	    },
//	})
//	var uerr *partstream.UploadError
//	if errors.As(err, &uerr) && uerr.Resumable() {
//	    // retry later with UploadOptions{Resume: &uerr.Resume}
//	}
func (c *Client) Upload(ctx context.Context, src io.ReaderAt, size int64, opts UploadOptions) (*CompletedObject, error) {
	if src == nil {
		return nil, &ValidationError{Field: "src", Message: "is required"}
	}
	if size <= 0 {
		return nil, &ValidationError{Field: "size", Message: "must be positive"}
	}
	opts = opts.withDefaults()

	session, stored, err := c.openSession(ctx, size, opts)
	if err != nil {
		return nil, err
	}
	state := ResumeState{UploadID: session.UploadID, ObjectKey: session.ObjectKey}
	if opts.OnSession != nil {
		opts.OnSession(state)
	}

	plan, err := partplan.Plan(size, session.PartSize)
	if err != nil {
		return nil, &UploadError{Resume: state, Err: err}
	}

	u := &partUploader{
		client:   c,
		state:    state,
		src:      src,
		opts:     opts,
		receipts: make([]PartReceipt, len(plan)),
		progress: Progress{BytesTotal: size, PartsTotal: len(plan)},
	}

	var pending []partplan.Part
	for _, part := range plan {
		if r, ok := stored[part.Number]; ok && r.Size == part.Length {
			u.receipts[part.Number-1] = r
			u.progress.BytesDone += part.Length
			u.progress.PartsDone++
			continue
		}
		pending = append(pending, part)
	}
	u.report()

	if err := u.run(ctx, pending); err != nil {
		return nil, err
	}

	obj, err := c.completeWithRetry(ctx, state, u.receipts, opts)
	if err != nil {
		return nil, &UploadError{Resume: state, PartsDone: len(plan), Err: err}
	}
	u.finish()
	return obj, nil
}

// openSession starts a new session or validates the one being resumed and
// returns its registered parts keyed by number.
func (c *Client) openSession(ctx context.Context, size int64, opts UploadOptions) (*Session, map[int]PartReceipt, error) {
	if opts.Resume == nil {
		session, err := c.InitUpload(ctx, InitRequest{
			Filename:    opts.Filename,
			ContentType: opts.ContentType,
			Size:        size,
			PartSize:    opts.PartSize,
		})
		if err != nil {
			return nil, nil, &UploadError{Err: err}
		}
		return session, nil, nil
	}

	state := *opts.Resume
	st, err := c.Status(ctx, state.UploadID)
	if err != nil {
		return nil, nil, &UploadError{Resume: state, Err: err}
	}

	switch st.State {
	case StateOpen:
	case StateAborted:
		return nil, nil, &UploadError{Resume: state, Err: fmt.Errorf("%w: session %s", ErrSessionAborted, st.UploadID)}
	default:
		return nil, nil, &UploadError{Resume: state, Err: fmt.Errorf("%w: session %s is %s", ErrConflict, st.UploadID, st.State)}
	}
	if st.ExpectedSize != size {
		return nil, nil, &UploadError{Resume: state, Err: &ValidationError{
			Field:   "size",
			Message: fmt.Sprintf("session expects %d bytes, source has %d", st.ExpectedSize, size),
		}}
	}
	if state.ObjectKey != "" && state.ObjectKey != st.ObjectKey {
		return nil, nil, &UploadError{Resume: state, Err: &ValidationError{Field: "objectKey", Message: "does not match the session"}}
	}

	session := &Session{
		UploadID:   st.UploadID,
		ObjectKey:  st.ObjectKey,
		PartSize:   st.PartSize,
		TotalParts: st.TotalParts,
	}
	stored := lo.KeyBy(st.Parts, func(p PartReceipt) int { return p.PartNumber })
	return session, stored, nil
}

// completeWithRetry completes the session, retrying while the server
// reports a transient storage failure. The server reopens the session
// before answering 503, so a retry is safe.
func (c *Client) completeWithRetry(ctx context.Context, state ResumeState, receipts []PartReceipt, opts UploadOptions) (*CompletedObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	backoff := opts.RetryBackoff
	for attempt := 0; ; attempt++ {
		obj, err := c.CompleteUpload(ctx, state, receipts)
		if err == nil {
			return obj, nil
		}
		if attempt >= opts.PartRetries || !(errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimit)) {
			return nil, err
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

// partUploader runs the part phase of one upload.
type partUploader struct {
	client *Client
	state  ResumeState
	src    io.ReaderAt
	opts   UploadOptions

	// receipts is indexed by part number - 1. Each goroutine writes only
	// its own slot; reads happen after the group is done.
	receipts []PartReceipt

	mu       sync.Mutex
	progress Progress
}

// partFailure tags an error with the part that produced it.
type partFailure struct {
	number int
	err    error
}

func (f *partFailure) Error() string { return fmt.Sprintf("part %d: %v", f.number, f.err) }
func (f *partFailure) Unwrap() error { return f.err }

// run uploads pending parts with at most opts.Concurrency in flight.
// Tokens are fetched one batch at a time, just before the batch starts,
// so they do not expire while earlier parts are still queued.
func (u *partUploader) run(ctx context.Context, pending []partplan.Part) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(u.opts.Concurrency))

	// failed is set before a failing part releases its slot, so the
	// dispatcher never starts another part after a failure.
	var failed atomic.Bool
	var dispatchErr error
dispatch:
	for _, batch := range tokenBatches(pending, MaxTokenBatch) {
		if gctx.Err() != nil {
			break
		}
		tokens, err := u.fetchTokens(gctx, batch)
		if err != nil {
			dispatchErr = err
			break
		}

		for _, part := range batch {
			if err := sem.Acquire(gctx, 1); err != nil {
				break dispatch
			}
			if failed.Load() || gctx.Err() != nil {
				sem.Release(1)
				break dispatch
			}
			token := tokens[part.Number]
			g.Go(func() error {
				defer sem.Release(1)

				receipt, err := u.uploadPart(gctx, part, token)
				if err != nil {
					failed.Store(true)
					return &partFailure{number: part.Number, err: err}
				}
				u.receipts[part.Number-1] = *receipt
				u.advance(part.Length)
				return nil
			})
		}
	}

	err := g.Wait()
	if err == nil {
		err = dispatchErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		return nil
	}

	uerr := &UploadError{Resume: u.state, PartsDone: u.partsDone(), Err: err}
	var pf *partFailure
	if errors.As(err, &pf) {
		uerr.PartNumber = pf.number
		uerr.Err = pf.err
	}
	return uerr
}

// uploadPart sends one part, retrying transient failures with exponential
// backoff. An expired token is replaced and the part resent.
func (u *partUploader) uploadPart(ctx context.Context, part partplan.Part, token string) (*PartReceipt, error) {
	backoff := u.opts.RetryBackoff
	for attempt := 0; ; attempt++ {
		body := io.NewSectionReader(u.src, part.Offset, part.Length)
		receipt, err := u.client.UploadPart(ctx, token, body, part.Length)
		if err == nil {
			if receipt.PartNumber != part.Number || receipt.Size != part.Length {
				return nil, fmt.Errorf("server acknowledged part %d (%d bytes) for part %d (%d bytes)",
					receipt.PartNumber, receipt.Size, part.Number, part.Length)
			}
			return receipt, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= u.opts.PartRetries {
			return nil, err
		}

		if errors.Is(err, ErrTokenExpired) {
			fresh, terr := u.fetchTokens(ctx, []partplan.Part{part})
			if terr != nil {
				return nil, terr
			}
			token = fresh[part.Number]
			continue
		}
		if !retryable(err) {
			return nil, err
		}

		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

// fetchTokens requests tokens for a run of consecutive parts.
func (u *partUploader) fetchTokens(ctx context.Context, batch []partplan.Part) (map[int]string, error) {
	first, last := batch[0].Number, batch[len(batch)-1].Number
	tokens, err := u.client.PartTokens(ctx, u.state, first, last)
	if err != nil {
		return nil, fmt.Errorf("fetching tokens for parts %d-%d: %w", first, last, err)
	}

	byPart := lo.SliceToMap(tokens, func(t PartToken) (int, string) { return t.PartNumber, t.Token })
	for _, part := range batch {
		if byPart[part.Number] == "" {
			return nil, fmt.Errorf("server issued no token for part %d", part.Number)
		}
	}
	return byPart, nil
}

func (u *partUploader) advance(n int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.progress.BytesDone += n
	u.progress.PartsDone++
	if u.opts.OnProgress != nil {
		u.opts.OnProgress(u.progress)
	}
}

func (u *partUploader) report() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.opts.OnProgress != nil {
		u.opts.OnProgress(u.progress)
	}
}

// finish sends the completion report.
func (u *partUploader) finish() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.progress.Completed = true
	if u.opts.OnProgress != nil {
		u.opts.OnProgress(u.progress)
	}
}

func (u *partUploader) partsDone() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.progress.PartsDone
}

// tokenBatches splits parts into runs of consecutive numbers, each at most
// limit long, so every batch is a single PartTokens range.
func tokenBatches(parts []partplan.Part, limit int) [][]partplan.Part {
	var batches [][]partplan.Part
	start := 0
	for i := 1; i <= len(parts); i++ {
		if i == len(parts) || parts[i].Number != parts[i-1].Number+1 {
			batches = append(batches, lo.Chunk(parts[start:i], limit)...)
			start = i
		}
	}
	return batches
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
