package grpcapi

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"qazna.org/superadmin/internal/audit"
	"qazna.org/superadmin/internal/auth"
)

const requestIDKey = "x-request-id"

// Client calls SessionGuard on a remote server.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial connects to target. Without options the transport is plaintext, which suits
// in-cluster sidecars; pass credentials for anything else.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: conn, conn: conn}, nil
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Verify returns the session carried by token. Status errors pass through unchanged.
func (c *Client) Verify(ctx context.Context, token string, opts ...grpc.CallOption) (auth.Session, error) {
	ctx = outgoingWithRequestID(ctx)
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodVerify, wrapperspb.String(token), out, opts...); err != nil {
		return auth.Session{}, err
	}
	return sessionFromStruct(out)
}

// CheckPermission succeeds when token holds at least one of perms.
func (c *Client) CheckPermission(ctx context.Context, token string, perms []auth.Permission, opts ...grpc.CallOption) (auth.Session, error) {
	list := make([]any, 0, len(perms))
	for _, p := range perms {
		list = append(list, string(p))
	}
	in, err := structpb.NewStruct(map[string]any{"token": token, "permissions": list})
	if err != nil {
		return auth.Session{}, err
	}
	ctx = outgoingWithRequestID(ctx)
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodCheckPermission, in, out, opts...); err != nil {
		return auth.Session{}, err
	}
	return sessionFromStruct(out)
}

func sessionFromStruct(s *structpb.Struct) (auth.Session, error) {
	f := s.GetFields()
	role, err := auth.ParseRole(f["role"].GetStringValue())
	if err != nil {
		return auth.Session{}, err
	}
	var raw []string
	for _, v := range f["permissions"].GetListValue().GetValues() {
		raw = append(raw, v.GetStringValue())
	}
	perms, err := auth.ParsePermissions(raw)
	if err != nil {
		return auth.Session{}, err
	}
	issued, err := time.Parse(time.RFC3339, f["issued_at"].GetStringValue())
	if err != nil {
		return auth.Session{}, fmt.Errorf("issued_at: %w", err)
	}
	expires, err := time.Parse(time.RFC3339, f["expires_at"].GetStringValue())
	if err != nil {
		return auth.Session{}, fmt.Errorf("expires_at: %w", err)
	}
	return auth.Session{
		ID:          f["session_id"].GetStringValue(),
		UserID:      f["user_id"].GetStringValue(),
		Email:       f["email"].GetStringValue(),
		Role:        role,
		Permissions: perms,
		IssuedAt:    issued,
		ExpiresAt:   expires,
	}, nil
}

func outgoingWithRequestID(ctx context.Context) context.Context {
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		return metadata.AppendToOutgoingContext(ctx, requestIDKey, rid)
	}
	return ctx
}
