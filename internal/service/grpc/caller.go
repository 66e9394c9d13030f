package grpcsvc

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Заголовки, которые выставляет шлюз аутентификации перед сервисом.
const (
	HeaderUserID   = "x-user-id"
	HeaderUserRole = "x-user-role"
)

// CallerResolver извлекает вызывающего из входящих метаданных.
type CallerResolver interface {
	Resolve(ctx context.Context) (domain.Caller, error)
}

// MetadataCallerResolver доверяет заголовкам x-user-id и x-user-role.
// Роль по умолчанию — buyer.
type MetadataCallerResolver struct{}

// Resolve возвращает Unauthenticated без x-user-id и InvalidArgument при неизвестной роли.
func (MetadataCallerResolver) Resolve(ctx context.Context) (domain.Caller, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	userID := firstValue(md, HeaderUserID)
	if userID == "" {
		return domain.Caller{}, status.Error(codes.Unauthenticated, HeaderUserID+" metadata is required")
	}

	role := domain.RoleBuyer
	if raw := firstValue(md, HeaderUserRole); raw != "" {
		parsed, ok := domain.ParseRole(raw)
		if !ok {
			return domain.Caller{}, status.Errorf(codes.InvalidArgument, "unknown role %q", raw)
		}
		role = parsed
	}
	return domain.Caller{UserID: userID, Role: role}, nil
}

// CallerMetadata формирует исходящие метаданные для клиента.
func CallerMetadata(ctx context.Context, caller domain.Caller) context.Context {
	return metadata.AppendToOutgoingContext(ctx, HeaderUserID, caller.UserID, HeaderUserRole, string(caller.Role))
}

func firstValue(md metadata.MD, key string) string {
	for _, v := range md.Get(key) {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
