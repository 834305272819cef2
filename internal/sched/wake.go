package sched

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/godbus/dbus/v5"

	"guardiand/internal/logging"
)

const (
	wakeInterface = "io.guardiand.Supervisor"
	wakeMember    = "Wake"

	// WakeFileName inside the state directory; touching it is the
	// bus-less way for a supervisor to request a wake.
	WakeFileName = "wake"
)

// WakeListener is the event-driven scheduling layer: a supervisor
// process signals the daemon over the session bus, or touches the wake
// file when no bus is available. Either path triggers the reduced-scope
// wake handler and kicks an immediate message cycle.
type WakeListener struct {
	coord    *Coordinator
	kick     func()
	stateDir string
	log      *logging.Logger

	conn    *dbus.Conn
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWakeListener creates the wake layer. kick is invoked after the
// wake handler to request an immediate capture cycle.
func NewWakeListener(coord *Coordinator, kick func(), stateDir string, log *logging.Logger) *WakeListener {
	return &WakeListener{
		coord:    coord,
		kick:     kick,
		stateDir: stateDir,
		log:      log.WithComponent("wake"),
		done:     make(chan struct{}),
	}
}

// Start subscribes to both wake paths. Each path failing to initialize
// is a warning, not an error: the layer is redundant by design.
func (l *WakeListener) Start(ctx context.Context) {
	if conn, err := dbus.ConnectSessionBus(); err != nil {
		l.log.Warn("session bus unavailable, bus wake disabled", "error", err)
	} else if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(wakeInterface),
		dbus.WithMatchMember(wakeMember),
	); err != nil {
		l.log.Warn("wake signal match rejected, bus wake disabled", "error", err)
		conn.Close()
	} else {
		l.conn = conn
		signals := make(chan *dbus.Signal, 8)
		conn.Signal(signals)
		l.wg.Add(1)
		go l.busLoop(ctx, signals)
	}

	if watcher, err := fsnotify.NewWatcher(); err != nil {
		l.log.Warn("fs watcher unavailable, file wake disabled", "error", err)
	} else if err := watcher.Add(l.stateDir); err != nil {
		l.log.Warn("cannot watch state directory, file wake disabled", "error", err)
		watcher.Close()
	} else {
		l.watcher = watcher
		l.wg.Add(1)
		go l.fileLoop(ctx)
	}
}

// Stop detaches from both wake paths.
func (l *WakeListener) Stop() {
	close(l.done)
	if l.conn != nil {
		l.conn.Close()
	}
	if l.watcher != nil {
		l.watcher.Close()
	}
	l.wg.Wait()
}

func (l *WakeListener) busLoop(ctx context.Context, signals chan *dbus.Signal) {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if sig.Name != wakeInterface+"."+wakeMember {
				continue
			}
			l.log.Debug("wake signal received")
			l.wake(ctx)
		}
	}
}

func (l *WakeListener) fileLoop(ctx context.Context) {
	defer l.wg.Done()
	wakePath := filepath.Join(l.stateDir, WakeFileName)
	for {
		select {
		case <-l.done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != wakePath || !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
				continue
			}
			l.log.Debug("wake file touched")
			l.wake(ctx)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.Warn("fs watcher error", "error", err)
		}
	}
}

func (l *WakeListener) wake(ctx context.Context) {
	l.coord.OnWake(ctx)
	if l.kick != nil {
		l.kick()
	}
}
