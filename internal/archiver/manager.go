// Package archiver uploads ceremony audit artifacts to object storage in the
// background. Uploads are queued and best effort: a full queue or a storage
// failure is logged and never fails the ceremony that produced the artifact.
package archiver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"biosecure-portal/internal/storage"
)

// Record is one audit artifact: the raw authenticator response submitted
// during a ceremony, kept for later inspection.
type Record struct {
	Kind    string
	Subject string
	Payload []byte
	At      time.Time
}

// Manager coordinates background artifact uploads and their lifecycle.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	Enqueue(ctx context.Context, rec Record) error
}

type Config struct {
	Bucket        string
	KeyPrefix     string
	Workers       int
	QueueSize     int
	UploadTimeout time.Duration
	Logger        *logrus.Logger
}

type manager struct {
	cfg     Config
	storage storage.Service

	queue  chan Record
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewManager creates an archive manager. A nil storage service disables
// archiving: Start and Enqueue become no-ops.
func NewManager(cfg Config, store storage.Service) Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &manager{
		cfg:     cfg,
		storage: store,
		queue:   make(chan Record, cfg.QueueSize),
	}
}

func (m *manager) Start(ctx context.Context) error {
	if m.storage == nil {
		m.cfg.Logger.Info("ceremony archive disabled, no storage configured")
		return nil
	}
	if m.cfg.Bucket == "" {
		return fmt.Errorf("archive bucket is required")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.cfg.Logger.Infof("ceremony archive started, bucket: %s", m.cfg.Bucket)
	return nil
}

// Shutdown stops accepting records, drains the queue, and waits for in-flight
// uploads.
func (m *manager) Shutdown() {
	if m.storage == nil {
		return
	}

	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	m.wg.Wait()
	if m.cancel != nil {
		m.cancel()
	}
	m.cfg.Logger.Info("ceremony archive stopped")
}

func (m *manager) Enqueue(ctx context.Context, rec Record) error {
	if m.storage == nil {
		return nil
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("archive is shut down")
	}

	select {
	case m.queue <- rec:
		return nil
	default:
		return fmt.Errorf("archive queue full")
	}
}

func (m *manager) worker() {
	defer m.wg.Done()
	for rec := range m.queue {
		m.upload(rec)
	}
}

func (m *manager) upload(rec Record) {
	logger := m.cfg.Logger.WithFields(logrus.Fields{
		"kind":    rec.Kind,
		"subject": rec.Subject,
	})

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.UploadTimeout)
	defer cancel()

	dest, err := m.storage.PutObject(ctx, m.cfg.Bucket, m.objectKey(rec), rec.Payload, "application/json")
	if err != nil {
		logger.Warnf("archive upload failed: %v", err)
		return
	}
	logger.Debugf("artifact archived to %s", dest)
}

func (m *manager) objectKey(rec Record) string {
	prefix := strings.Trim(m.cfg.KeyPrefix, "/")
	key := fmt.Sprintf("%s/%s/%s.json", rec.Kind, rec.At.Format("2006/01/02"), uuid.NewString())
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

var _ Manager = (*manager)(nil)
