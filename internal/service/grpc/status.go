package grpcsvc

import (
	"context"
	"errors"
	"strconv"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const errorDomain = "fulfillment.v1"

// toStatus переводит доменную ошибку в gRPC status с деталями.
// Ошибки, уже являющиеся status, возвращаются как есть.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var (
		cartErr       *domain.CartValidationError
		validationErr *domain.ValidationError
		conflictErr   *domain.ConflictError
		transitionErr *domain.InvalidTransitionError
	)

	switch {
	case errors.As(err, &cartErr):
		violations := make([]*errdetails.PreconditionFailure_Violation, 0, len(cartErr.Problems))
		for _, p := range cartErr.Problems {
			violations = append(violations, &errdetails.PreconditionFailure_Violation{
				Type:        string(p.Code),
				Subject:     p.ProductID,
				Description: "requested " + strconv.FormatInt(p.Requested, 10) + ", available " + strconv.FormatInt(p.Available, 10),
			})
		}
		return withDetails(codes.FailedPrecondition, err.Error(), &errdetails.PreconditionFailure{Violations: violations})

	case errors.As(err, &validationErr):
		violations := make([]*errdetails.BadRequest_FieldViolation, 0, len(validationErr.Fields))
		for _, f := range validationErr.Fields {
			violations = append(violations, &errdetails.BadRequest_FieldViolation{Field: f.Field, Description: f.Message})
		}
		return withDetails(codes.InvalidArgument, err.Error(), &errdetails.BadRequest{FieldViolations: violations})

	case errors.Is(err, domain.ErrEmptyCart):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.As(err, &transitionErr):
		return withDetails(codes.FailedPrecondition, err.Error(), &errdetails.ErrorInfo{
			Reason: "invalid_transition",
			Domain: errorDomain,
			Metadata: map[string]string{
				"from": string(transitionErr.From),
				"to":   string(transitionErr.To),
			},
		})

	case errors.As(err, &conflictErr):
		code := codes.FailedPrecondition
		switch {
		case conflictErr.Retryable:
			code = codes.Aborted
		case conflictErr.Reason == domain.ConflictSequence:
			code = codes.ResourceExhausted
		case conflictErr.Reason == domain.ConflictDuplicatePayment, conflictErr.Reason == domain.ConflictDuplicate:
			code = codes.AlreadyExists
		}
		return withDetails(code, err.Error(), &errdetails.ErrorInfo{
			Reason:   string(conflictErr.Reason),
			Domain:   errorDomain,
			Metadata: map[string]string{"retryable": strconv.FormatBool(conflictErr.Retryable)},
		})

	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrInvalidSignature):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		return status.Error(codes.Unavailable, "payment gateway is temporarily unavailable, try again")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error, try again")
	}
}

func statusOf(err error) *status.Status {
	return status.Convert(toStatus(err))
}

func withDetails(code codes.Code, msg string, detail protoadapt.MessageV1) error {
	st := status.New(code, msg)
	detailed, err := st.WithDetails(detail)
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}
