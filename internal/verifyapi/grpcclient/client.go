// Package grpcclient calls the verification service over gRPC. Messages are google.protobuf.Struct
// values carrying the same fields as the HTTP API.
package grpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"phone-login/client/internal/phone"
	"phone-login/client/internal/verification/domain"
)

// Full method names on the verification service.
const (
	ServiceName            = "phoneverify.v1.VerificationService"
	SendVerificationMethod = "/" + ServiceName + "/SendVerification"
	VerifyCodeMethod       = "/" + ServiceName + "/VerifyCode"
)

// ServiceError is a gRPC status returned by a reachable service.
type ServiceError struct {
	Code    codes.Code
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("grpcclient: %s: %s", e.Code, e.Message)
}

// ServiceMessage returns the status message.
func (e *ServiceError) ServiceMessage() string { return e.Message }

// Client is a verification service client over a single gRPC connection.
type Client struct {
	conn *grpc.ClientConn
}

// New connects to addr with plaintext credentials and OTel client instrumentation. opts are
// applied after the defaults.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	if addr == "" {
		return nil, errors.New("grpcclient: address is required")
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpcclient: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RequestCode asks the service to deliver a code to p.
func (c *Client) RequestCode(ctx context.Context, p phone.Number) error {
	req, err := structpb.NewStruct(map[string]any{"phoneNumber": p.String()})
	if err != nil {
		return err
	}
	var resp structpb.Struct
	if err := c.conn.Invoke(ctx, SendVerificationMethod, req, &resp); err != nil {
		return convertError(err)
	}
	return nil
}

// VerifyCode submits code for p. The "user" field of the reply becomes the result payload.
func (c *Client) VerifyCode(ctx context.Context, p phone.Number, code string) (*domain.VerifyResult, error) {
	req, err := structpb.NewStruct(map[string]any{"phoneNumber": p.String(), "code": code})
	if err != nil {
		return nil, err
	}
	var resp structpb.Struct
	if err := c.conn.Invoke(ctx, VerifyCodeMethod, req, &resp); err != nil {
		return nil, convertError(err)
	}

	fields := resp.GetFields()
	res := &domain.VerifyResult{
		Success: fields["success"].GetBoolValue(),
		Message: fields["message"].GetStringValue(),
	}
	if user, ok := fields["user"]; ok {
		if _, isNull := user.GetKind().(*structpb.Value_NullValue); !isNull {
			raw, err := user.MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("grpcclient: encode user: %w", err)
			}
			var buf bytes.Buffer
			if err := json.Compact(&buf, raw); err != nil {
				return nil, fmt.Errorf("grpcclient: encode user: %w", err)
			}
			res.Payload = buf.Bytes()
		}
	}
	return res, nil
}

// convertError keeps connectivity failures as plain errors so their text never reaches the user.
func convertError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("grpcclient: %w", err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Unknown:
		return fmt.Errorf("grpcclient: %w", err)
	}
	return &ServiceError{Code: st.Code(), Message: st.Message()}
}
