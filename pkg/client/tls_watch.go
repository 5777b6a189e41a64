package client

import (
	"crypto/tls"
	"sync"

	"github.com/go-logr/logr"
	fsnotify "gopkg.in/fsnotify/fsnotify.v1"
)

// certWatcher hot-reloads a cert/key pair into a shared *tls.Config,
// grounded on the teacher's newSSLKeyPairWatcherFunc: watch both files with
// fsnotify and rebuild tls.Certificate on Write or Remove (some editors
// replace-by-rename, which surfaces as Remove followed by a fresh Create).
type certWatcher struct {
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	cfg     *tls.Config
	logger  logr.Logger
	done    chan struct{}
}

func watchTLSCertPair(certFile, keyFile string, cfg *tls.Config, logger logr.Logger) (*certWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(certFile); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(keyFile); err != nil {
		w.Close()
		return nil, err
	}

	cw := &certWatcher{watcher: w, cfg: cfg, logger: logger, done: make(chan struct{})}
	if err := cw.reload(certFile, keyFile); err != nil {
		logger.Info("initial TLS cert/key load failed, keeping prior config", "error", err.Error())
	}
	go cw.run(certFile, keyFile)
	return cw, nil
}

func (cw *certWatcher) run(certFile, keyFile string) {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Create) == 0 {
				continue
			}
			if err := cw.reload(certFile, keyFile); err != nil {
				cw.logger.Info("TLS cert/key reload failed, keeping prior config", "error", err.Error())
				continue
			}
			// Editors that replace-by-rename drop the watch on the old
			// inode; re-arm so subsequent rotations keep firing.
			cw.watcher.Add(certFile)
			cw.watcher.Add(keyFile)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Info("TLS cert watcher error", "error", err.Error())
		case <-cw.done:
			return
		}
	}
}

func (cw *certWatcher) reload(certFile, keyFile string) error {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return err
	}
	cw.mu.Lock()
	cw.cfg.Certificates = []tls.Certificate{pair}
	cw.mu.Unlock()
	cw.logger.V(1).Info("reloaded TLS certificate pair", "cert", certFile)
	return nil
}

// Stop tears down the watcher. Safe to call more than once.
func (cw *certWatcher) Stop() {
	select {
	case <-cw.done:
		return
	default:
		close(cw.done)
	}
	cw.watcher.Close()
}
