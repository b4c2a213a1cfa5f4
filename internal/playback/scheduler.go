// Package playback keeps a screen's content schedule up to date, caches the
// scheduled media on local disk and answers what is playing now and next.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/redsquare/screen-booking/internal/model"
	"github.com/redsquare/screen-booking/internal/storage"
)

// ProgressFailed marks a download whose last attempt failed.
const ProgressFailed = -1

var ErrNoSignedURL = errors.New("signer returned no url")

// Options configures a Scheduler. Cache is restored from Dir when the
// Scheduler is built.
type Options struct {
	Sync    SyncClient
	Signer  URLSigner
	Fetcher ObjectFetcher
	Cache   *ContentCache
	Dir     string // cache directory, created on demand
	Logger  *zap.Logger
	Now     func() time.Time
}

// Scheduler is safe for concurrent use. The schedule is replaced wholesale
// by each applied fetch; readers see either the old or the new one.
type Scheduler struct {
	syncer  SyncClient
	signer  URLSigner
	fetcher ObjectFetcher
	cache   *ContentCache
	dir     string
	logger  *zap.Logger
	now     func() time.Time

	schedule atomic.Pointer[model.ContentSchedule]
	issued   atomic.Uint64

	mu       sync.Mutex
	applied  uint64
	progress map[uint64]int

	flights singleflight.Group
}

func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Sync == nil || opts.Signer == nil || opts.Fetcher == nil || opts.Cache == nil {
		return nil, errors.New("playback: sync client, signer, fetcher and cache are required")
	}
	if opts.Dir == "" {
		return nil, errors.New("playback: cache directory is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Scheduler{
		syncer:   opts.Sync,
		signer:   opts.Signer,
		fetcher:  opts.Fetcher,
		cache:    opts.Cache,
		dir:      opts.Dir,
		logger:   opts.Logger,
		now:      opts.Now,
		progress: make(map[uint64]int),
	}
	// registered before Restore so entries dropped while restoring are
	// reported like any other eviction
	s.cache.OnEvict(s.forgetProgress)
	n, err := s.cache.Restore(s.dir)
	if err != nil {
		return nil, fmt.Errorf("playback: restore content cache: %w", err)
	}
	if n > 0 {
		s.logger.Info("content cache restored", zap.Int("entries", n), zap.Int64("bytes", s.cache.Bytes()))
	}
	return s, nil
}

// Schedule returns the last applied schedule, or nil before the first
// successful fetch.
func (s *Scheduler) Schedule() *model.ContentSchedule { return s.schedule.Load() }

// Current is the item playing now in the applied schedule.
func (s *Scheduler) Current() (model.ContentItem, bool) { return s.Schedule().Current(s.now()) }

// Next is the item starting soonest after now in the applied schedule.
func (s *Scheduler) Next() (model.ContentItem, bool) { return s.Schedule().Next(s.now()) }

// FetchSchedule pulls the schedule of screenID and applies it. On error the
// previous schedule stays in place. A response that arrives after the
// response of a later call is discarded.
func (s *Scheduler) FetchSchedule(ctx context.Context, screenID uint64) error {
	seq := s.issued.Add(1)
	items, err := s.syncer.FetchSchedule(ctx, screenID)
	if err != nil {
		s.logger.Warn("fetch schedule failed; keeping previous schedule",
			zap.Uint64("screen_id", screenID), zap.Uint64("seq", seq), zap.Error(err))
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.applied {
		s.logger.Debug("discarding stale schedule", zap.Uint64("seq", seq), zap.Uint64("applied", s.applied))
		return nil
	}
	s.applied = seq
	s.schedule.Store(&model.ContentSchedule{ScreenID: screenID, Items: items, LastUpdated: s.now()})
	s.logger.Info("schedule updated", zap.Uint64("screen_id", screenID), zap.Int("items", len(items)))
	return nil
}

// Progress reports the download state of id: 0..100 while or after
// downloading, ProgressFailed after a failed attempt. ok is false when no
// download was ever attempted.
func (s *Scheduler) Progress(id uint64) (pct int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pct, ok = s.progress[id]
	return pct, ok
}

func (s *Scheduler) setProgress(id uint64, pct int) {
	s.mu.Lock()
	s.progress[id] = pct
	s.mu.Unlock()
}

// forgetProgress drops the progress of an evicted item so Progress stops
// reporting a finished download for a file that is gone.
func (s *Scheduler) forgetProgress(id uint64) {
	s.mu.Lock()
	delete(s.progress, id)
	s.mu.Unlock()
}

// Cached returns the local entry for id without downloading.
func (s *Scheduler) Cached(id uint64) (CacheEntry, bool) { return s.cache.Get(id) }

// DownloadContent returns the cached file of item, downloading it first when
// needed. Concurrent calls for the same item share one download. Failures
// are not remembered: the next call tries again.
func (s *Scheduler) DownloadContent(ctx context.Context, item model.ContentItem) (CacheEntry, error) {
	if e, ok := s.cache.Get(item.ID); ok {
		return e, nil
	}
	v, err, _ := s.flights.Do(strconv.FormatUint(item.ID, 10), func() (any, error) {
		return s.download(ctx, item)
	})
	if err != nil {
		return CacheEntry{}, err
	}
	return v.(CacheEntry), nil
}

func (s *Scheduler) download(ctx context.Context, item model.ContentItem) (CacheEntry, error) {
	// a flight that finished just before this one started may have filled it
	if e, ok := s.cache.Get(item.ID); ok {
		return e, nil
	}
	s.setProgress(item.ID, 0)
	log := s.logger.With(zap.Uint64("content_id", item.ID), zap.String("url", item.URL))

	e, err := s.fetchToDisk(ctx, item)
	if err != nil {
		s.setProgress(item.ID, ProgressFailed)
		log.Warn("content download failed", zap.Error(err))
		return CacheEntry{}, fmt.Errorf("download content %d: %w", item.ID, err)
	}
	s.cache.Add(e)
	s.setProgress(item.ID, 100)
	log.Info("content cached", zap.String("path", e.Path), zap.Int64("size", e.Size))
	return e, nil
}

func (s *Scheduler) fetchToDisk(ctx context.Context, item model.ContentItem) (CacheEntry, error) {
	bucket, object, err := storage.ParseObjectRef(item.URL)
	if err != nil {
		return CacheEntry{}, err
	}
	signed, err := s.signer.SignedURL(ctx, bucket, object, storage.DefaultContentExpiry)
	if err != nil {
		return CacheEntry{}, err
	}
	if signed == "" {
		return CacheEntry{}, ErrNoSignedURL
	}
	body, size, contentType, err := s.fetcher.Fetch(ctx, signed)
	if err != nil {
		return CacheEntry{}, err
	}
	defer body.Close()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return CacheEntry{}, err
	}
	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return CacheEntry{}, err
	}
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := &progressWriter{w: tmp, total: size, report: func(pct int) { s.setProgress(item.ID, pct) }}
	n, err := io.Copy(w, body)
	if err != nil {
		return CacheEntry{}, err
	}
	if err := tmp.Close(); err != nil {
		return CacheEntry{}, err
	}

	key := fmt.Sprintf("%d-%s%s", item.ID, uuid.NewString(), path.Ext(object))
	final := filepath.Join(s.dir, key)
	if err := os.Rename(tmp.Name(), final); err != nil {
		return CacheEntry{}, err
	}
	tmp = nil

	if contentType == "" {
		contentType = string(item.Type)
	}
	return CacheEntry{
		ID:          item.ID,
		Key:         key,
		Path:        final,
		Size:        n,
		ContentType: contentType,
		CachedAt:    s.now(),
	}, nil
}

// CacheAllContent downloads the items of schedule one after another in
// schedule order. A failed item does not stop the loop; all failures are
// returned together. Cancelling ctx stops before the next item. A nil
// schedule means the currently applied one.
func (s *Scheduler) CacheAllContent(ctx context.Context, schedule *model.ContentSchedule) error {
	if schedule == nil {
		schedule = s.Schedule()
	}
	if schedule == nil {
		return nil
	}
	var errs error
	for _, item := range schedule.Items {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if _, err := s.DownloadContent(ctx, item); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// progressWriter reports percentages while copying. The final 100 is set
// by the caller once the file is in place.
type progressWriter struct {
	w       io.Writer
	total   int64
	written int64
	last    int
	report  func(int)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.total > 0 {
		pct := int(p.written * 100 / p.total)
		if pct > 99 {
			pct = 99
		}
		if pct > p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
