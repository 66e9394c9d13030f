package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// IdempotencyState — этап обработки запроса, пришедшего с ключом повтора.
type IdempotencyState string

const (
	IdempotencyInFlight  IdempotencyState = "processing"
	IdempotencySucceeded IdempotencyState = "done"
	IdempotencyFailed    IdempotencyState = "failed"
)

func (s IdempotencyState) Known() bool {
	return s == IdempotencyInFlight || s.Settled()
}

// Settled — у запроса есть итог, который можно отдать повтору.
func (s IdempotencyState) Settled() bool {
	return s == IdempotencySucceeded || s == IdempotencyFailed
}

var (
	ErrIdempotencyUnknownKey = errors.New("idempotency: unknown key")
	// ErrIdempotencyReplay — ключ уже занят тем же запросом.
	ErrIdempotencyReplay = errors.New("idempotency: key already used by this request")
	// ErrIdempotencyMismatch — ключ занят запросом с другим телом.
	ErrIdempotencyMismatch = errors.New("idempotency: key already used by a different request")
)

// IdempotencyOutcome — итог запроса. Code и Body трактует транспорт.
type IdempotencyOutcome struct {
	State IdempotencyState
	Code  int
	Body  []byte
}

type IdempotencyRecord struct {
	Key         string
	Fingerprint string
	Outcome     IdempotencyOutcome
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone копирует запись вместе с телом ответа.
func (r IdempotencyRecord) Clone() IdempotencyRecord {
	r.Outcome.Body = append([]byte(nil), r.Outcome.Body...)
	return r
}

// NormalizeIdempotencyKey обрезает пробелы и отклоняет пустой ключ или отпечаток.
func NormalizeIdempotencyKey(key, fingerprint string) (string, string, error) {
	key, fingerprint = strings.TrimSpace(key), strings.TrimSpace(fingerprint)
	if key == "" {
		return "", "", NewValidationError("idempotency key is empty")
	}
	if fingerprint == "" {
		return "", "", NewValidationError(fmt.Sprintf("idempotency key %s has no request fingerprint", key))
	}
	return key, fingerprint, nil
}

// CheckIdempotencyOutcome отклоняет итог, который нельзя сохранить.
func CheckIdempotencyOutcome(o IdempotencyOutcome) error {
	if !o.State.Settled() {
		return NewValidationError(fmt.Sprintf("idempotency outcome state %q is not final", o.State))
	}
	return nil
}

// IsIdempotencyConflict сообщает, что ключ уже занят тем же или другим запросом.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyReplay) || errors.Is(err, ErrIdempotencyMismatch)
}
