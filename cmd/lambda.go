package main

import (
	"context"
	"errors"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"order-concierge/handler"
	"order-concierge/internal/usecase"
)

func newLambdaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve the webhook as an API Gateway Lambda function",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.lambdaHandler(cmd.Context())
			if err != nil {
				return err
			}
			lambda.Start(h.Handle)
			return nil
		},
	}
}

// lambdaHandler wires the engine against DynamoDB sessions. There is no
// in-process ledger: each invocation may land on a different instance.
func (a *app) lambdaHandler(ctx context.Context) (*handler.Handler, error) {
	if a.cfg.Sessions.Table == "" {
		return nil, errors.New("sessions.table is required in lambda mode")
	}
	sessions, err := a.repository(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.stockStore(ctx)
	if err != nil {
		return nil, err
	}
	base, err := a.menu()
	if err != nil {
		return nil, err
	}
	cache, err := a.catalogCache(base, store, nil)
	if err != nil {
		return nil, err
	}
	if err := cache.Refresh(ctx); err != nil {
		a.logger.Warn("initial catalog refresh incomplete", zap.Error(err))
	}
	go cache.Run(ctx, a.cfg.Catalog.RefreshInterval)

	messenger, err := a.gatewayClient(ctx)
	if err != nil {
		return nil, err
	}
	engine, err := a.engine(usecase.Deps{
		Sessions:  sessions,
		Catalog:   cache,
		Gateway:   store,
		Messenger: messenger,
		Staff:     messenger,
	})
	if err != nil {
		return nil, err
	}
	return handler.NewHandler(engine, a.logger)
}
