// Package grpc holds the presence service client and server. Messages are
// google.protobuf.Struct values so no generated stubs are needed.
package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"inbox-service/internal/adapters"
	"inbox-service/internal/models"
)

const (
	presenceServiceName = "inbox.presence.v1.PresenceService"
	presenceGetMethod   = "/" + presenceServiceName + "/GetPresence"
)

// PresenceClient reads last-seen records from a remote presence service.
type PresenceClient struct {
	conn grpclib.ClientConnInterface
}

// NewPresenceClient constructs the wrapper.
func NewPresenceClient(conn grpclib.ClientConnInterface) *PresenceClient {
	return &PresenceClient{conn: conn}
}

// Dial opens an instrumented client connection to addr.
func Dial(addr string, opts ...grpclib.DialOption) (*grpclib.ClientConn, error) {
	opts = append([]grpclib.DialOption{
		grpclib.WithTransportCredentials(insecure.NewCredentials()),
		grpclib.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	return grpclib.NewClient(addr, opts...)
}

// GetPresence fetches the last-seen record of userID.
func (c *PresenceClient) GetPresence(ctx context.Context, userID string) (models.PresenceRecord, error) {
	req, err := structpb.NewStruct(map[string]any{"user_id": userID})
	if err != nil {
		return models.PresenceRecord{}, err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, presenceGetMethod, req, resp); err != nil {
		return models.PresenceRecord{}, err
	}
	return decodePresence(resp)
}

func encodePresence(rec models.PresenceRecord) (*structpb.Struct, error) {
	fields := map[string]any{"user_id": rec.UserID}
	if !rec.LastSeenAt.IsZero() {
		fields["last_seen_at"] = rec.LastSeenAt.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(fields)
}

func decodePresence(s *structpb.Struct) (models.PresenceRecord, error) {
	fields := s.GetFields()
	rec := models.PresenceRecord{UserID: fields["user_id"].GetStringValue()}
	if raw := fields["last_seen_at"].GetStringValue(); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return models.PresenceRecord{}, fmt.Errorf("decode last_seen_at: %w", err)
		}
		rec.LastSeenAt = ts
	}
	return rec, nil
}

var _ adapters.PresenceSource = (*PresenceClient)(nil)
