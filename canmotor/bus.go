// Package canmotor talks to the module motor controllers over SocketCAN. A publish loop
// keeps re-sending the latest setpoint of every controller and a receive loop decodes
// their status frames.
package canmotor

import (
	"context"
	"sync"
	"time"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// DefaultChannel is the CAN interface the controllers are wired to.
const DefaultChannel = "can0"

const publishInterval = 10 * time.Millisecond

var (
	// ErrNoStatus is returned when a controller has not reported since the bus was opened.
	ErrNoStatus = errors.New("no status received from motor controller")
	// ErrClosed is returned for commands sent after Close.
	ErrClosed   = errors.New("CAN bus closed")
)

type frameSender interface {
	Send(frame canbus.Frame) (int, error)
	Close() error
}

type frameReceiver interface {
	Recv() (canbus.Frame, error)
	Close() error
}

type status struct {
	drivePosition float64 // rotations
	driveVelocity float64 // RPM
	turnPosition  float64 // rotations
	haveDrive     bool
	haveTurn      bool
}

// Bus owns one CAN interface shared by all controllers.
type Bus struct {
	logger      logging.Logger
	nextFrameCh chan canbus.Frame
	rx          frameReceiver
	closed      <-chan struct{}

	mu       sync.Mutex
	statuses map[uint8]*status

	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
	closeOnce               sync.Once
}

// Open binds a send and a receive socket to channel. Only status frames from devices are
// received.
func Open(channel string, devices []uint8, logger logging.Logger) (*Bus, error) {
	socketSend, err := canbus.New()
	if err != nil {
		return nil, err
	}
	if err := socketSend.Bind(channel); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "binding send socket to %s", channel), socketSend.Close())
	}

	socketRecv, err := canbus.New()
	if err != nil {
		return nil, multierr.Combine(err, socketSend.Close())
	}
	if err := socketRecv.SetFilters(receiveFilters(devices)); err != nil {
		return nil, multierr.Combine(err, socketSend.Close(), socketRecv.Close())
	}
	if err := socketRecv.Bind(channel); err != nil {
		return nil, multierr.Combine(
			errors.Wrapf(err, "binding receive socket to %s", channel), socketSend.Close(), socketRecv.Close())
	}

	return newBus(socketSend, socketRecv, logger), nil
}

func newBus(tx frameSender, rx frameReceiver, logger logging.Logger) *Bus {
	cancelCtx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		logger:      logger,
		nextFrameCh: make(chan canbus.Frame),
		rx:          rx,
		closed:      cancelCtx.Done(),
		statuses:    map[uint8]*status{},
		cancel:      cancel,
	}

	b.activeBackgroundWorkers.Add(2)
	goutils.ManagedGo(func() {
		b.publishThread(cancelCtx, tx)
	}, b.activeBackgroundWorkers.Done)
	goutils.ManagedGo(func() {
		b.receiveThread(cancelCtx, rx)
	}, b.activeBackgroundWorkers.Done)
	return b
}

// publishThread sends every frame as soon as it is handed over and re-sends the latest
// setpoint of each controller every 10ms.
func (b *Bus) publishThread(ctx context.Context, tx frameSender) {
	defer func() {
		if err := tx.Close(); err != nil {
			b.logger.Errorw("closing CAN send socket", "error", err)
		}
	}()

	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	latched := map[uint32]canbus.Frame{}
	var order []uint32
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case frame := <-b.nextFrameCh:
			if isSetpoint(frame.ID) {
				if _, ok := latched[frame.ID]; !ok {
					order = append(order, frame.ID)
				}
				latched[frame.ID] = frame
			}
			if _, err := tx.Send(frame); err != nil {
				b.logger.Errorw("command send error", "id", frame.ID, "error", err)
			}
		case <-ticker.C:
			for _, id := range order {
				if _, err := tx.Send(latched[id]); err != nil {
					b.logger.Errorw("setpoint send error", "id", id, "error", err)
				}
			}
		}
	}
}

// receiveThread decodes status frames until the bus is closed. Controllers report
// periodically so a blocked Recv returns soon after cancellation.
func (b *Bus) receiveThread(ctx context.Context, rx frameReceiver) {
	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := rx.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Errorw("CAN Rx error", "error", err)
			if !goutils.SelectContextOrWait(ctx, publishInterval) {
				return
			}
			continue
		}
		b.handleStatus(frame)
	}
}

func (b *Bus) handleStatus(frame canbus.Frame) {
	api, device := splitArbitrationID(frame.ID)
	switch api {
	case apiDriveStatus:
		position, err := ExtractSignal(frame.Data, signalDrivePosition)
		if err != nil {
			b.logger.Warnw("bad drive status frame", "device", device, "error", err)
			return
		}
		velocity, err := ExtractSignal(frame.Data, signalDriveVelocity)
		if err != nil {
			b.logger.Warnw("bad drive status frame", "device", device, "error", err)
			return
		}
		b.mu.Lock()
		s := b.statusLocked(device)
		s.drivePosition, s.driveVelocity, s.haveDrive = position, velocity, true
		b.mu.Unlock()
	case apiTurnStatus:
		position, err := ExtractSignal(frame.Data, signalTurnPosition)
		if err != nil {
			b.logger.Warnw("bad turn status frame", "device", device, "error", err)
			return
		}
		b.mu.Lock()
		s := b.statusLocked(device)
		s.turnPosition, s.haveTurn = position, true
		b.mu.Unlock()
	}
}

func (b *Bus) statusLocked(device uint8) *status {
	s, ok := b.statuses[device]
	if !ok {
		s = &status{}
		b.statuses[device] = s
	}
	return s
}

func (b *Bus) status(device uint8) status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.statuses[device]; ok {
		return *s
	}
	return status{}
}

// WaitForStatus blocks until every module has reported its drive and turn status.
func (b *Bus) WaitForStatus(ctx context.Context, modules ...*Module) error {
	for {
		missing := -1
		for i, m := range modules {
			if !b.status(m.cfg.DrivingID).haveDrive || !b.status(m.cfg.TurningID).haveTurn {
				missing = i
				break
			}
		}
		if missing < 0 {
			return nil
		}
		if !goutils.SelectContextOrWait(ctx, publishInterval) {
			return errors.Wrapf(ErrNoStatus, "module %d", missing)
		}
	}
}

func (b *Bus) send(ctx context.Context, cmd command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		return ErrClosed
	case b.nextFrameCh <- cmd.toFrame():
	}
	return nil
}

// Close stops both loops. The last setpoints are not cleared; stop the modules first.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		err = b.rx.Close()
		b.activeBackgroundWorkers.Wait()
	})
	return err
}
