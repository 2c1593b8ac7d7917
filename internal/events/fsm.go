package events

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrInvalidTransition = errors.New("invalid state transition")

type State string

const (
	StateCreated    State = "created"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StatePaused     State = "paused"
	StateStopped    State = "stopped"
	StateError      State = "error"
)

// transitions is the allowed state graph. Error is recoverable back to
// connecting; stopped daemons can be restarted.
var transitions = map[State]map[State]struct{}{
	StateCreated: {
		StateConnecting: {},
		StateStopped:    {},
	},
	StateConnecting: {
		StateStreaming: {},
		StateError:     {},
		StateStopped:   {},
	},
	StateStreaming: {
		StatePaused:  {},
		StateStopped: {},
		StateError:   {},
	},
	StatePaused: {
		StateStreaming: {},
		StateStopped:   {},
		StateError:     {},
	},
	StateError: {
		StateConnecting: {},
		StateStopped:    {},
	},
	StateStopped: {
		StateConnecting: {},
	},
}

type FSM struct {
	mu      sync.Mutex
	current State
	logger  *zap.Logger
}

func NewFSM(logger *zap.Logger) *FSM {
	return &FSM{
		current: StateCreated,
		logger:  logger,
	}
}

func (f *FSM) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FSM) Transition(to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := transitions[f.current][to]; !ok {
		f.logger.Error("invalid state transition",
			zap.String("from", string(f.current)),
			zap.String("to", string(to)))
		return ErrInvalidTransition
	}

	previous := f.current
	f.current = to
	f.logger.Info("state transitioned",
		zap.String("state", string(f.current)),
		zap.String("from", string(previous)))
	return nil
}
