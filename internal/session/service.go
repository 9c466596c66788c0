package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/straighten/internal/batch"
	"github.com/jackzampolin/straighten/internal/export"
	"github.com/jackzampolin/straighten/internal/ingest"
	"github.com/jackzampolin/straighten/internal/pages"
	"github.com/jackzampolin/straighten/internal/providers"
	"github.com/jackzampolin/straighten/internal/raster"
	"github.com/jackzampolin/straighten/internal/rectify"
)

// detectionJPEGQuality is the encoding used for images sent to the detector.
const detectionJPEGQuality = 85

// Config holds the collaborators a Service composes.
type Config struct {
	Rasterizer   ingest.Rasterizer
	DPI          int
	Detectors    *providers.Holder
	PaddingRatio float64
	BatchSize    int
	Background   export.ForegroundExtractor
	Assembler    *export.Assembler
	ExportDir    string
	Logger       *slog.Logger
}

// Settings are the values that can change on config reload.
type Settings struct {
	DPI          int     `json:"dpi"`
	PaddingRatio float64 `json:"padding_ratio"`
	BatchSize    int     `json:"batch_size"`
}

// Service owns the in-memory sessions.
type Service struct {
	rasterizer ingest.Rasterizer
	detectors  *providers.Holder
	background export.ForegroundExtractor
	assembler  *export.Assembler
	exportDir  string
	logger     *slog.Logger

	mu       sync.RWMutex
	settings Settings
	sessions map[string]*Session
}

// NewService creates a service.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DPI <= 0 {
		cfg.DPI = ingest.DefaultDPI
	}
	if cfg.PaddingRatio <= 0 {
		cfg.PaddingRatio = rectify.DefaultPaddingRatio
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = batch.DefaultBatchSize
	}
	if cfg.Detectors == nil {
		cfg.Detectors = providers.NewHolder(nil, nil, cfg.Logger)
	}
	if cfg.Background == nil {
		cfg.Background = export.NewWhitener(0)
	}
	if cfg.Assembler == nil {
		cfg.Assembler = export.NewAssembler(0, cfg.Logger)
	}
	return &Service{
		rasterizer: cfg.Rasterizer,
		detectors:  cfg.Detectors,
		background: cfg.Background,
		assembler:  cfg.Assembler,
		exportDir:  cfg.ExportDir,
		logger:     cfg.Logger,
		settings: Settings{
			DPI:          cfg.DPI,
			PaddingRatio: cfg.PaddingRatio,
			BatchSize:    cfg.BatchSize,
		},
		sessions: make(map[string]*Session),
	}
}

// Settings returns the current settings.
func (s *Service) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UpdateSettings replaces the settings. Running batches keep the batch size
// they started with.
func (s *Service) UpdateSettings(st Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.DPI > 0 {
		s.settings.DPI = st.DPI
	}
	if st.PaddingRatio > 0 {
		s.settings.PaddingRatio = st.PaddingRatio
	}
	if st.BatchSize > 0 {
		s.settings.BatchSize = st.BatchSize
	}
}

// Detectors returns the detector holder.
func (s *Service) Detectors() *providers.Holder {
	return s.detectors
}

// SetCredentials stores a fresh detector API key.
func (s *Service) SetCredentials(key string) {
	s.detectors.Credentials().Set(key)
	s.logger.Info("detector credentials updated")
}

// Create rasterizes pdf and opens a session over its pages.
func (s *Service) Create(ctx context.Context, title string, pdf []byte, progress ingest.ProgressFunc) (*Session, error) {
	if s.rasterizer == nil {
		return nil, errors.New("no rasterizer configured")
	}
	start := time.Now()
	rendered, err := s.rasterizer.Rasterize(ctx, pdf, s.Settings().DPI, progress)
	if err != nil {
		return nil, err
	}
	if len(rendered) == 0 {
		return nil, ingest.ErrNoPages
	}
	sess := s.CreateFromImages(title, ingest.Images(rendered))
	s.logger.Info("session created",
		"session", sess.ID,
		"pages", len(rendered),
		"backend", s.rasterizer.Name(),
		"elapsed", time.Since(start),
	)
	return sess, nil
}

// CreateFromImages opens a session over already-rendered pages.
func (s *Service) CreateFromImages(title string, images []*raster.Image) *Session {
	sess := &Session{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
		Pages:     pages.NewArena(images),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get returns a session by ID.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// List returns every session, oldest first.
func (s *Service) List() []Info {
	s.mu.RLock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	out := make([]Info, len(all))
	for i, sess := range all {
		out[i] = sess.Info()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete drops a session. A running batch finishes against the detached arena.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

// Page returns the current state of one page.
func (s *Service) Page(id string, page int) (pages.Snapshot, error) {
	sess, err := s.Get(id)
	if err != nil {
		return pages.Snapshot{}, err
	}
	return sess.Pages.Snapshot(page)
}

// Pages returns the current state of every page.
func (s *Service) Pages(id string) ([]pages.Snapshot, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Pages.Snapshots(), nil
}

// RectifyResult is the outcome of a single-page rectification.
type RectifyResult struct {
	Page      pages.Snapshot             `json:"page"`
	Plan      *rectify.Plan              `json:"plan"`
	Detection *providers.DetectionResult `json:"detection,omitempty"`
}

// RectifyPage straightens one page. With corners nil the detector supplies
// them. Failures leave the page untouched and are returned as-is.
func (s *Service) RectifyPage(ctx context.Context, id string, page int, corners *rectify.CornerSet) (*RectifyResult, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	lease, err := leaseOne(sess, page)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	snap := lease.Snapshots()[0]
	out, err := s.rectify(ctx, snap, corners)
	if err != nil {
		_ = lease.Fail(page, err)
		return nil, err
	}
	if err := lease.Replace(page, out.image); err != nil {
		return nil, err
	}
	return &RectifyResult{
		Page:      lease.Release()[0],
		Plan:      out.plan,
		Detection: out.detection,
	}, nil
}

// Rotate adds degrees to a page's rotation offset.
func (s *Service) Rotate(id string, page int, degrees float64) (pages.Snapshot, error) {
	return s.update(id, page, func(r *pages.Record) error {
		r.Rotate(degrees)
		return nil
	})
}

// Undo reverts a page's most recent edit.
func (s *Service) Undo(id string, page int) (pages.Snapshot, error) {
	return s.update(id, page, func(r *pages.Record) error {
		return r.Undo()
	})
}

// RemoveBackground whitens the paper around a page's content.
func (s *Service) RemoveBackground(ctx context.Context, id string, page int) (pages.Snapshot, error) {
	sess, err := s.Get(id)
	if err != nil {
		return pages.Snapshot{}, err
	}
	lease, err := leaseOne(sess, page)
	if err != nil {
		return pages.Snapshot{}, err
	}
	defer lease.Release()

	snap := lease.Snapshots()[0]
	img, err := s.background.Extract(ctx, snap.Image)
	if err != nil {
		return pages.Snapshot{}, fmt.Errorf("background removal failed: %w", err)
	}
	if err := lease.Replace(page, img); err != nil {
		return pages.Snapshot{}, err
	}
	return lease.Release()[0], nil
}

// BatchOptions controls a batch run.
type BatchOptions struct {
	BatchSize int   `json:"batch_size,omitempty"`
	Pages     []int `json:"pages,omitempty"` // Default: every page
}

// StartBatch detects and rectifies the selected pages in the background and
// returns immediately. Poll progress with Session.BatchStatus.
func (s *Service) StartBatch(ctx context.Context, id string, opts BatchOptions) (batch.Status, error) {
	sess, err := s.Get(id)
	if err != nil {
		return batch.Status{}, err
	}
	updates, tracker, err := s.runBatch(ctx, sess, opts)
	if err != nil {
		return batch.Status{}, err
	}
	go tracker.Follow(updates)
	return tracker.Status(), nil
}

// RunBatch is StartBatch that waits for completion, calling onProgress once
// per finished batch.
func (s *Service) RunBatch(ctx context.Context, id string, opts BatchOptions, onProgress func(batch.Update)) (*batch.Summary, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	updates, tracker, err := s.runBatch(ctx, sess, opts)
	if err != nil {
		return nil, err
	}
	var summary *batch.Summary
	for u := range updates {
		tracker.Observe(u)
		if u.Final() {
			summary = u.Summary
		} else if onProgress != nil {
			onProgress(u)
		}
	}
	return summary, nil
}

func (s *Service) runBatch(ctx context.Context, sess *Session, opts BatchOptions) (<-chan batch.Update, *batch.Tracker, error) {
	lease, err := sess.Pages.Lease(opts.Pages)
	if err != nil {
		if errors.Is(err, pages.ErrLeased) {
			return nil, nil, fmt.Errorf("%w: %v", ErrBatchRunning, err)
		}
		return nil, nil, err
	}

	size := opts.BatchSize
	if size <= 0 {
		size = s.Settings().BatchSize
	}
	ctrl := batch.NewController(batch.Config{
		BatchSize: size,
		Logger:    s.logger.With("session", sess.ID),
	})
	n := len(lease.Indices())
	tracker := batch.NewTracker(n, ctrl.Batches(n))
	sess.setTracker(tracker)

	s.logger.Info("batch started", "session", sess.ID, "pages", n, "batch_size", size)

	// The run outlives the request that started it.
	runCtx := context.WithoutCancel(ctx)
	updates := ctrl.Run(runCtx, lease, func(ctx context.Context, snap pages.Snapshot) (*raster.Image, error) {
		out, err := s.rectify(ctx, snap, nil)
		if err != nil {
			return nil, err
		}
		return out.image, nil
	})
	return updates, tracker, nil
}

// Export assembles every page, rotation applied, into a PDF in the export
// directory and returns its path.
func (s *Service) Export(ctx context.Context, id string) (string, error) {
	sess, err := s.Get(id)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	imgs, err := export.PageImages(sess.Pages.Snapshots())
	if err != nil {
		return "", err
	}

	path, err := exportPath(s.exportDir, sess)
	if err != nil {
		return "", err
	}
	if err := s.assembler.AssembleFile(path, imgs); err != nil {
		return "", err
	}
	sess.setExportPath(path)
	s.logger.Info("session exported", "session", sess.ID, "pages", len(imgs), "path", path)
	return path, nil
}

// exportPath places the PDF at {dir}/{session id}/{title}.pdf. The title
// contributes only its final path element; anything resolving outside the
// session's directory is refused.
func exportPath(dir string, sess *Session) (string, error) {
	name := filepath.Base(strings.TrimSpace(sess.Title))
	switch name {
	case "", ".", "..", string(filepath.Separator):
		name = sess.ID
	}
	sessDir := filepath.Join(dir, sess.ID)
	path := filepath.Join(sessDir, name+".pdf")

	rel, err := filepath.Rel(sessDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || strings.ContainsRune(rel, filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTitle, sess.Title)
	}
	return path, nil
}

func (s *Service) update(id string, page int, fn func(*pages.Record) error) (pages.Snapshot, error) {
	sess, err := s.Get(id)
	if err != nil {
		return pages.Snapshot{}, err
	}
	snap, err := sess.Pages.Update(page, fn)
	if errors.Is(err, pages.ErrLeased) {
		return pages.Snapshot{}, fmt.Errorf("%w: %v", ErrBatchRunning, err)
	}
	return snap, err
}

func leaseOne(sess *Session, page int) (*pages.Lease, error) {
	lease, err := sess.Pages.Lease([]int{page})
	if errors.Is(err, pages.ErrLeased) {
		return nil, fmt.Errorf("%w: %v", ErrBatchRunning, err)
	}
	return lease, err
}

type rectified struct {
	image     *raster.Image
	plan      *rectify.Plan
	detection *providers.DetectionResult
}

// rectify resolves the corners for snap, from the caller or the detector,
// and runs the pipeline.
func (s *Service) rectify(ctx context.Context, snap pages.Snapshot, corners *rectify.CornerSet) (*rectified, error) {
	var (
		out  rectified
		quad rectify.Quad
		err  error
	)
	if corners != nil {
		quad, err = corners.Quad()
		if err != nil {
			return nil, err
		}
	} else {
		out.detection, err = s.detect(ctx, snap)
		if err != nil {
			return nil, err
		}
		quad = out.detection.Corners
	}

	settings := s.Settings()
	out.plan, err = rectify.NewPlan(snap.Width(), snap.Height(), quad, settings.PaddingRatio)
	if err != nil {
		return nil, err
	}
	pipeline := rectify.NewPipeline(settings.PaddingRatio, s.logger.With("page", snap.Index))
	out.image, err = pipeline.Rectify(snap.Image, quad)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) detect(ctx context.Context, snap pages.Snapshot) (*providers.DetectionResult, error) {
	detector := s.detectors.Detector()
	if detector == nil {
		return nil, ErrNoDetector
	}
	data, err := snap.Image.JPEG(detectionJPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode page %d: %w", snap.Index, err)
	}
	return detector.Detect(ctx, &providers.DetectionRequest{
		Image:    data,
		MIMEType: "image/jpeg",
		Width:    snap.Width(),
		Height:   snap.Height(),
		Page:     snap.Index,
	})
}
