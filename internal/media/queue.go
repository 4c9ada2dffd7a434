package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/notification-cache/internal/metrics"
	"github.com/chirino/notification-cache/internal/model"
	registrymedia "github.com/chirino/notification-cache/internal/registry/media"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
)

// sniffLen is how much of a download is buffered for content detection.
const sniffLen = 3072

// Request asks for one URL to be cached.
type Request struct {
	URL            string
	BucketID       string
	NotificationID string
	MediaType      model.MediaType
}

// Sink receives the metadata of every stored download.
type Sink func(ctx context.Context, item model.MediaItem) error

// DownloadQueue fetches media in the background. Requests are de-duplicated
// by cache key while pending; when the queue is full they are dropped and
// counted.
type DownloadQueue struct {
	client  *resty.Client
	blobs   registrymedia.BlobStore
	maxSize int64
	workers int
	now     func() time.Time

	requests chan Request
	sink     atomic.Pointer[Sink]

	mu        sync.Mutex
	pending   map[string]struct{}
	isRunning bool
	shutdown  chan struct{}
	workerWG  sync.WaitGroup
	overflows atomic.Int64
}

// NewHTTPClient returns the client media downloads use. It sends no JSON
// content negotiation headers so image hosts serve the raw bytes.
func NewHTTPClient(timeout time.Duration, userAgent string) *resty.Client {
	client := resty.New().SetTimeout(timeout)
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return client
}

// NewDownloadQueue creates a queue. client should carry the HTTP timeout.
func NewDownloadQueue(client *resty.Client, blobs registrymedia.BlobStore, maxSize int64, workers, size int) *DownloadQueue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 50
	}
	return &DownloadQueue{
		client:   client,
		blobs:    blobs,
		maxSize:  maxSize,
		workers:  workers,
		now:      time.Now,
		requests: make(chan Request, size),
		pending:  map[string]struct{}{},
		shutdown: make(chan struct{}),
	}
}

// SetSink registers the metadata receiver. The Manager sets itself here.
func (q *DownloadQueue) SetSink(s Sink) {
	q.sink.Store(&s)
}

// Enqueue queues req. It returns false when the URL is already pending or the
// queue is full.
func (q *DownloadQueue) Enqueue(req Request) bool {
	key := Key(req.URL)
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.pending[key]; dup {
		return false
	}
	select {
	case q.requests <- req:
		q.pending[key] = struct{}{}
		return true
	default:
		q.overflows.Add(1)
		metrics.CountQueueOverflow()
		return false
	}
}

// Overflows counts requests dropped because the queue was full.
func (q *DownloadQueue) Overflows() int64 { return q.overflows.Load() }

// Pending reports how many URLs are queued or downloading.
func (q *DownloadQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start launches the workers. Calling Start twice is a no-op.
func (q *DownloadQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = true
	q.mu.Unlock()

	log.Info("Media download queue starting", "workers", q.workers, "capacity", cap(q.requests))
	for i := 0; i < q.workers; i++ {
		q.workerWG.Add(1)
		go func() {
			defer q.workerWG.Done()
			for {
				select {
				case <-q.shutdown:
					return
				case <-ctx.Done():
					return
				case req := <-q.requests:
					q.process(ctx, req)
				}
			}
		}()
	}
}

// Shutdown stops the workers after their current download.
func (q *DownloadQueue) Shutdown() {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = false
	q.mu.Unlock()

	close(q.shutdown)
	q.workerWG.Wait()
	log.Info("Media download queue stopped", "overflows", q.Overflows())
}

func (q *DownloadQueue) process(ctx context.Context, req Request) {
	key := Key(req.URL)
	defer func() {
		q.mu.Lock()
		delete(q.pending, key)
		q.mu.Unlock()
	}()

	item, err := q.download(ctx, key, req)
	if err != nil {
		metrics.CountDownload("error")
		log.Warn("Media download failed", "url", req.URL, "err", err)
		return
	}
	metrics.CountDownload("ok")
	if sink := q.sink.Load(); sink != nil {
		if err := (*sink)(ctx, *item); err != nil {
			log.Error("Failed to record media item", "key", key, "err", err)
		}
	}
}

func (q *DownloadQueue) download(ctx context.Context, key string, req Request) (*model.MediaItem, error) {
	resp, err := q.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(req.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode())
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read: %w", err)
	}
	head = head[:n]
	detected := mimetype.Detect(head)
	contentType := detected.String()
	if detected.Is("application/octet-stream") {
		if header := resp.Header().Get("Content-Type"); header != "" {
			contentType = header
		}
	}

	storageKey := key + detected.Extension()
	info, err := q.blobs.Put(ctx, storageKey, io.MultiReader(bytes.NewReader(head), body), q.maxSize, contentType)
	if err != nil {
		return nil, err
	}

	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = ClassifyContentType(contentType)
	}
	return &model.MediaItem{
		Key:            key,
		URL:            req.URL,
		BucketID:       req.BucketID,
		NotificationID: req.NotificationID,
		MediaType:      mediaType,
		ContentType:    contentType,
		Size:           info.Size,
		StorageKey:     info.StorageKey,
		DownloadedAt:   q.now(),
	}, nil
}
