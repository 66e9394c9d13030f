package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	// HeaderIdempotencyKey — необязательный ключ повтора для мутирующих методов.
	HeaderIdempotencyKey = "idempotency-key"
	idempotencyTTL       = 24 * time.Hour
)

var deterministic = proto.MarshalOptions{Deterministic: true}

// idempotent выполняет run не более одного раза на пару (пользователь, ключ).
// Повтор того же запроса получает сохранённый ответ или ошибку вместе с details,
// запрос с другим телом получает AlreadyExists. Без ключа run выполняется как обычно.
func (s *FulfillmentService) idempotent(
	ctx context.Context,
	method string,
	caller domain.Caller,
	req *structpb.Struct,
	run func(context.Context) (*structpb.Struct, error),
) (*structpb.Struct, error) {
	key := idempotencyKey(ctx)
	if key == "" {
		return run(ctx)
	}
	key = caller.UserID + ":" + key
	entry := s.logger.WithFields(log.Fields{"method": method, "idempotency_key": key})

	fp, err := fingerprint(method, req)
	if err != nil {
		entry.WithError(err).Error("failed to fingerprint request")
		return nil, status.Error(codes.Internal, "failed to fingerprint request")
	}

	held, err := s.deps.Idempotency.Reserve(ctx, key, fp, time.Now().UTC().Add(idempotencyTTL))
	switch {
	case errors.Is(err, domain.ErrIdempotencyMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key was already used with a different request")
	case errors.Is(err, domain.ErrIdempotencyReplay):
		entry.WithField("state", held.Outcome.State).Debug("replaying idempotent request")
		return replay(held)
	case err != nil:
		entry.WithError(err).Error("failed to reserve idempotency key")
		return nil, toStatus(err)
	}

	resp, runErr := run(ctx)
	outcome, err := settled(resp, runErr)
	if err == nil {
		err = s.deps.Idempotency.Settle(ctx, key, outcome)
	}
	if err != nil {
		entry.WithError(err).Warn("failed to store idempotent outcome")
	}
	return resp, runErr
}

// settled упаковывает результат run: ответ как Struct, ошибку как google.rpc.Status.
func settled(resp *structpb.Struct, runErr error) (domain.IdempotencyOutcome, error) {
	if runErr != nil {
		st := status.Convert(runErr)
		body, err := deterministic.Marshal(st.Proto())
		return domain.IdempotencyOutcome{State: domain.IdempotencyFailed, Code: int(st.Code()), Body: body}, err
	}
	body, err := deterministic.Marshal(resp)
	return domain.IdempotencyOutcome{State: domain.IdempotencySucceeded, Code: int(codes.OK), Body: body}, err
}

// replay восстанавливает ответ по сохранённому итогу.
func replay(rec domain.IdempotencyRecord) (*structpb.Struct, error) {
	switch rec.Outcome.State {
	case domain.IdempotencyInFlight:
		return nil, status.Error(codes.Aborted, "request with this idempotency key is still in progress")
	case domain.IdempotencySucceeded:
		resp := new(structpb.Struct)
		if err := proto.Unmarshal(rec.Outcome.Body, resp); err != nil {
			return nil, status.Error(codes.Internal, "stored idempotent response is corrupted")
		}
		return resp, nil
	case domain.IdempotencyFailed:
		st := new(spb.Status)
		if err := proto.Unmarshal(rec.Outcome.Body, st); err != nil || st.GetCode() == int32(codes.OK) {
			return nil, status.Error(codes.Code(rec.Outcome.Code), "previous request with this idempotency key failed") //nolint:gosec // код взят из status.Code.
		}
		return nil, status.ErrorProto(st)
	default:
		return nil, status.Errorf(codes.Internal, "idempotency key is in unknown state %q", rec.Outcome.State)
	}
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	return strings.TrimSpace(firstValue(md, HeaderIdempotencyKey))
}

// fingerprint — sha256 от имени метода и детерминированно сериализованного тела.
func fingerprint(method string, req *structpb.Struct) (string, error) {
	body, err := deterministic.Marshal(req)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
