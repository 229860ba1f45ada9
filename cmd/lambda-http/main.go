package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"docvault-backend/internal/bootstrap"
	"docvault-backend/internal/shared/config"
	"docvault-backend/internal/shared/server/respond"
	"docvault-backend/internal/shared/telemetry"
)

type proxy interface {
	ProxyWithContext(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)
}

// coldStart builds the router once per execution environment. A failed build
// is sticky; the runtime is recycled on the next deploy.
type coldStart struct {
	once  sync.Once
	build func() (proxy, error)
	p     proxy
	err   error
}

func (s *coldStart) handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	s.once.Do(func() {
		s.p, s.err = s.build()
		if s.err != nil {
			telemetry.Error("lambda.bootstrap_failed", map[string]any{"error": s.err})
		}
	})
	if s.err != nil {
		return errorResponse(req, http.StatusServiceUnavailable, "bootstrap_failed", "service is starting up, retry shortly"), nil
	}
	return s.p.ProxyWithContext(ctx, req)
}

func errorResponse(req events.APIGatewayV2HTTPRequest, status int, code, message string) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(respond.ErrorResponse{Error: respond.ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: req.RequestContext.RequestID,
	}})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Retry-After":  "5",
		},
	}
}

func buildProxy() (proxy, error) {
	app, err := bootstrap.Build(config.Load())
	if err != nil {
		return nil, err
	}
	return ginadapter.NewV2(app.Router), nil
}

func main() {
	s := &coldStart{build: buildProxy}
	lambda.Start(s.handle)
}
