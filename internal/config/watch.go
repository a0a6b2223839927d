package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadable is the subset of Config spec.md §4.8 permits changing at
// runtime: log level/format, CORS policy, worker tick intervals, and
// retention windows. Everything else (database URL, encryption key, PAK
// generation parameters, telemetry endpoints) requires a restart.
type reloadable struct {
	Log    Log
	CORS   CORS
	Broker struct {
		WebhookDeliveryIntervalSec  int
		WebhookDeliveryBatchSize    int
		WebhookCleanupRetentionDays int
		AuditLogRetentionDays       int
		StaleClaimReaperIntervalSec int
		RetryPromoterIntervalSec    int
		LeaseSweeperIntervalSec     int
	}
}

func snapshotReloadable(cfg *Config) reloadable {
	var r reloadable
	r.Log = cfg.Log
	r.CORS = cfg.CORS
	r.Broker.WebhookDeliveryIntervalSec = cfg.Broker.WebhookDeliveryIntervalSec
	r.Broker.WebhookDeliveryBatchSize = cfg.Broker.WebhookDeliveryBatchSize
	r.Broker.WebhookCleanupRetentionDays = cfg.Broker.WebhookCleanupRetentionDays
	r.Broker.AuditLogRetentionDays = cfg.Broker.AuditLogRetentionDays
	r.Broker.StaleClaimReaperIntervalSec = cfg.Broker.StaleClaimReaperIntervalSec
	r.Broker.RetryPromoterIntervalSec = cfg.Broker.RetryPromoterIntervalSec
	r.Broker.LeaseSweeperIntervalSec = cfg.Broker.LeaseSweeperIntervalSec
	return r
}

// Watcher watches a config file for writes and reloads the hot-reloadable
// subset into a shared *Config, logging and ignoring attempted changes to
// restart-only fields. Grounded on the teacher's background-task shutdown
// idiom (own goroutine, own done channel) used throughout
// internal/controlplane/jobs and internal/controlplane/webhook.
type Watcher struct {
	path   string
	logger *zap.Logger

	mu  sync.Mutex
	cur *Config

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a Watcher over path, seeded with initial. Call Start to
// begin watching; Current always returns the latest reloaded configuration.
func NewWatcher(path string, initial *Config, logger *zap.Logger) (*Watcher, error) {
	w := &Watcher{path: path, cur: initial, logger: logger, done: make(chan struct{})}
	if path == "" {
		return w, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	w.watcher = fw
	return w, nil
}

// Current returns the most recently reloaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cur
}

// Start runs the watch loop until stop is closed. It never returns an error;
// reload failures are logged and the previous configuration is kept.
func (w *Watcher) Start(stop <-chan struct{}) {
	if w.watcher == nil {
		return
	}
	defer w.watcher.Close()

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}
}

// Reload forces an immediate reload of the hot-reloadable configuration
// subset, independent of the fsnotify loop. Exported so the HTTP admin
// route (internal/httpapi.Reloader) can trigger a reload on demand rather
// than waiting on a file write.
func (w *Watcher) Reload() {
	w.reload()
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("config reload failed, keeping previous configuration", zap.Error(err))
		}
		return
	}

	w.mu.Lock()
	prev := w.cur
	before := snapshotReloadable(prev)
	after := snapshotReloadable(next)

	merged := *prev
	merged.Log = next.Log
	merged.CORS = next.CORS
	merged.Broker.WebhookDeliveryIntervalSec = next.Broker.WebhookDeliveryIntervalSec
	merged.Broker.WebhookDeliveryBatchSize = next.Broker.WebhookDeliveryBatchSize
	merged.Broker.WebhookCleanupRetentionDays = next.Broker.WebhookCleanupRetentionDays
	merged.Broker.AuditLogRetentionDays = next.Broker.AuditLogRetentionDays
	merged.Broker.StaleClaimReaperIntervalSec = next.Broker.StaleClaimReaperIntervalSec
	merged.Broker.RetryPromoterIntervalSec = next.Broker.RetryPromoterIntervalSec
	merged.Broker.LeaseSweeperIntervalSec = next.Broker.LeaseSweeperIntervalSec
	w.cur = &merged
	w.mu.Unlock()

	if w.logger != nil && before != after {
		w.logger.Info("reloaded hot-reloadable configuration subset")
	}

	if restartOnlyFieldsChanged(prev, next) && w.logger != nil {
		w.logger.Warn("config file changed a restart-only field; ignoring until restart")
	}
}

func restartOnlyFieldsChanged(prev, next *Config) bool {
	return prev.Database != next.Database ||
		prev.Broker.WebhookEncryptionKey != next.Broker.WebhookEncryptionKey ||
		prev.PAK != next.PAK ||
		prev.Telemetry != next.Telemetry
}
