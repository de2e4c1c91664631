package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"resonate/logger"
	"resonate/storage"

	"github.com/fsnotify/fsnotify"
)

// SegmentUploader pushes transcode output to the artifact store while
// ffmpeg is still writing it: fsnotify watches the output directory, a
// worker pool uploads finished segments, and Finish sweeps up whatever the
// watcher missed (playlists, the master manifest, the last segment).
//
// Early uploads never leak to listeners: renditions only become visible
// when the database commit flips the asset to COMPLETED.
type SegmentUploader struct {
	store   storage.ArtifactStore
	workers int

	dir       string
	keyPrefix string

	watcher     *fsnotify.Watcher
	tasks       chan string
	wg          sync.WaitGroup
	watcherDone chan struct{}

	mu       sync.Mutex
	uploaded map[string]string // relative name -> storage ref
	failed   map[string]bool   // relative name -> retry at Finish

	// lastSegment is the most recently created .ts file. A segment is only
	// complete once ffmpeg starts the next one, so its upload is deferred
	// until then; the final segment is swept up by Finish.
	lastSegment string
}

// NewSegmentUploader creates an uploader with the given worker count.
func NewSegmentUploader(store storage.ArtifactStore, workers int) *SegmentUploader {
	if workers <= 0 {
		workers = 4
	}
	return &SegmentUploader{store: store, workers: workers}
}

// Start begins watching dir and uploading under keyPrefix. The directory is
// created if missing.
func (u *SegmentUploader) Start(ctx context.Context, dir, keyPrefix string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	u.dir = dir
	u.keyPrefix = keyPrefix
	u.watcher = watcher
	u.tasks = make(chan string, 100)
	u.watcherDone = make(chan struct{})
	u.uploaded = make(map[string]string)
	u.failed = make(map[string]bool)
	u.lastSegment = ""

	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker(ctx)
	}
	go u.watch()

	return nil
}

// watch turns segment-creation events into upload tasks.
func (u *SegmentUploader) watch() {
	defer close(u.watcherDone)
	for {
		select {
		case event, ok := <-u.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 || !strings.HasSuffix(event.Name, ".ts") {
				continue
			}
			// Playlists are rewritten for the whole transcode; they are
			// uploaded by the Finish sweep only.
			if u.lastSegment != "" {
				u.tasks <- u.lastSegment
			}
			u.lastSegment = event.Name
		case err, ok := <-u.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Segment watcher error", logger.ErrorField(err))
		}
	}
}

func (u *SegmentUploader) worker(ctx context.Context) {
	defer u.wg.Done()
	for path := range u.tasks {
		u.upload(ctx, path)
	}
}

// upload pushes one local file and records the outcome.
func (u *SegmentUploader) upload(ctx context.Context, path string) {
	rel := filepath.Base(path)
	key := u.keyPrefix + rel

	ref, err := u.store.PutFile(ctx, key, path)
	u.mu.Lock()
	defer u.mu.Unlock()
	if err != nil {
		logger.Warn("Segment upload failed, will retry at finish",
			logger.String("segment", rel),
			logger.ErrorField(err))
		u.failed[rel] = true
		return
	}
	delete(u.failed, rel)
	u.uploaded[rel] = ref
}

// stop shuts down the watcher and waits for in-flight uploads.
func (u *SegmentUploader) stop() {
	if u.watcher == nil {
		return
	}
	u.watcher.Close()
	<-u.watcherDone
	close(u.tasks)
	u.wg.Wait()
	u.watcher = nil
}

// Abort discards the run: the watcher and workers stop and nothing more is
// uploaded. Already-uploaded objects are left behind; they are overwritten
// on the next attempt and never referenced by the database.
func (u *SegmentUploader) Abort() {
	u.stop()
}

// Finish stops watching, sweeps the directory for every file not yet
// uploaded (retrying earlier failures once) and returns the final map of
// relative names to storage refs. A file that still fails after its retry
// fails the whole upload step.
func (u *SegmentUploader) Finish(ctx context.Context) (map[string]string, error) {
	u.stop()

	entries, err := os.ReadDir(u.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory %s: %w", u.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		rel := entry.Name()
		u.mu.Lock()
		_, done := u.uploaded[rel]
		u.mu.Unlock()
		if done {
			continue
		}

		path := filepath.Join(u.dir, rel)
		key := u.keyPrefix + rel
		ref, err := u.store.PutFile(ctx, key, path)
		if err != nil {
			// Storage failures get exactly one more chance.
			ref, err = u.store.PutFile(ctx, key, path)
			if err != nil {
				return nil, fmt.Errorf("failed to upload %s after retry: %w", rel, err)
			}
		}
		u.mu.Lock()
		delete(u.failed, rel)
		u.uploaded[rel] = ref
		u.mu.Unlock()
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	refs := make(map[string]string, len(u.uploaded))
	for rel, ref := range u.uploaded {
		refs[rel] = ref
	}
	return refs, nil
}
