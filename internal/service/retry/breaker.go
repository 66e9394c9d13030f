package retry

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrCircuitOpen — вызов отклонён без выполнения: breaker разомкнут или уже идёт пробный вызов.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

const defaultMaxFailures = 5

// CircuitBreaker размыкается после maxFailures ошибок подряд. Через resetTimeout
// пропускает один пробный вызов: успех замыкает breaker, ошибка размыкает снова.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	logger       *log.Entry
	now          func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	return &CircuitBreaker{maxFailures: maxFailures, resetTimeout: resetTimeout, logger: logger, now: time.Now}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет fn, если breaker пропускает вызов, и учитывает результат.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	if err := cb.admit(operation); err != nil {
		return err
	}
	err := fn()
	cb.settle(operation, err)
	return err
}

func (cb *CircuitBreaker) admit(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) <= cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open, probing")
	case CircuitHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) settle(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.state == CircuitHalfOpen
	cb.probing = false
	if err == nil {
		if wasProbe {
			cb.logger.WithField("operation", operation).Info("circuit breaker closed")
		}
		cb.state, cb.failures = CircuitClosed, 0
		return
	}

	cb.failures++
	if wasProbe || cb.failures >= cb.maxFailures {
		if cb.state != CircuitOpen {
			cb.logger.WithError(err).WithFields(log.Fields{"operation": operation, "failures": cb.failures}).Warn("circuit breaker opened")
		}
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}
