package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"order-concierge/internal/catalog"
	"order-concierge/internal/config"
	"order-concierge/internal/domain"
	"order-concierge/internal/integrations/catalogapi"
	"order-concierge/internal/integrations/gateway"
	"order-concierge/internal/integrations/paramstore"
	"order-concierge/internal/menu"
	"order-concierge/internal/repository"
	"order-concierge/internal/stockdb"
	"order-concierge/internal/usecase"
)

// stockStore is the durable stock, either SQLite or DynamoDB.
type stockStore interface {
	Commit(ctx context.Context, lines []domain.OrderLine) (map[string]int, error)
	LoadStock(ctx context.Context) ([]domain.MenuItem, error)
	SetStock(ctx context.Context, slug string, qty int) error
	PutProduct(ctx context.Context, p domain.MenuItem) error
}

// app holds what every command shares. Components are built on demand so
// that, for example, seed never resolves gateway tokens.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	aws     *aws.Config
	dynamo  *awsdynamodb.Client
	closers []func() error
}

func (a *app) init(cfg config.Config) error {
	logger, err := newLogger(cfg.LogLevel, cfg.Development)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func newLogger(level string, development bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if development {
		zcfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.aws != nil {
		return *a.aws, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	a.aws = &cfg
	return cfg, nil
}

func (a *app) dynamoClient(ctx context.Context) (*awsdynamodb.Client, error) {
	if a.dynamo != nil {
		return a.dynamo, nil
	}
	cfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	a.dynamo = awsdynamodb.NewFromConfig(cfg)
	return a.dynamo, nil
}

// repository returns the DynamoDB client for sessions and, when configured,
// stock. sessionTable falls back to the stock table for stock-only use.
func (a *app) repository(ctx context.Context) (*repository.Client, error) {
	api, err := a.dynamoClient(ctx)
	if err != nil {
		return nil, err
	}
	sessions := a.cfg.Sessions.Table
	if sessions == "" {
		sessions = a.cfg.Inventory.StockTable
	}
	return repository.New(api, sessions, a.cfg.Inventory.StockTable)
}

func (a *app) stockStore(ctx context.Context) (stockStore, error) {
	switch a.cfg.Inventory.Backend {
	case "dynamodb":
		return a.repository(ctx)
	default:
		store, err := stockdb.Open(a.cfg.Inventory.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
}

func (a *app) menu() (*menu.Menu, error) {
	if a.cfg.Catalog.MenuFile != "" {
		return menu.LoadFile(a.cfg.Catalog.MenuFile)
	}
	return menu.Default()
}

// catalogCache builds the product and status sources named by the config.
// stock may be nil.
func (a *app) catalogCache(base *menu.Menu, store stockStore, stock catalog.StockSyncer) (*catalog.Cache, error) {
	var (
		products catalog.ProductSource
		statuses catalog.StatusSource
	)
	switch a.cfg.Catalog.Source {
	case "api":
		client, err := catalogapi.NewClient(a.cfg.Catalog.BaseURL)
		if err != nil {
			return nil, err
		}
		products, statuses = client, client
	default:
		hours, err := a.cfg.Hours.Schedule()
		if err != nil {
			return nil, err
		}
		products, statuses = catalog.FromStore(store), hours
	}
	return catalog.New(base, products, statuses, stock, a.logger)
}

// gatewayClient resolves the transport token from config or SSM.
func (a *app) gatewayClient(ctx context.Context) (*gateway.Client, error) {
	var (
		getter paramstore.Getter
		name   = a.cfg.Gateway.TokenParam
	)
	switch {
	case a.cfg.Gateway.Token != "":
		raw, err := json.Marshal(map[string]string{"token": a.cfg.Gateway.Token})
		if err != nil {
			return nil, err
		}
		name = "gateway-token"
		getter = paramstore.Static{name: string(raw)}
	case name != "":
		cfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		client, err := paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			return nil, err
		}
		getter = client
	default:
		return nil, errors.New("gateway.token or gateway.token_param must be set")
	}
	tokens, err := paramstore.NewTokenSource(getter, name)
	if err != nil {
		return nil, err
	}
	return gateway.NewClient(tokens, a.cfg.Gateway.BaseURL, gateway.WithStaffChat(a.cfg.Gateway.StaffChatID))
}

func (a *app) engine(d usecase.Deps) (*usecase.Engine, error) {
	hoursText := ""
	if a.cfg.Catalog.Source == "local" && len(a.cfg.Hours.Week) > 0 {
		hours, err := a.cfg.Hours.Schedule()
		if err != nil {
			return nil, err
		}
		hoursText = hours.Describe()
	}
	return usecase.NewEngine(d, usecase.Config{
		StoreName:        a.cfg.Store.Name,
		MenuURL:          a.cfg.Store.MenuURL,
		Address:          a.cfg.Store.Address,
		HoursText:        hoursText,
		PixKey:           a.cfg.Store.PixKey,
		IdleTimeout:      a.cfg.Chat.IdleTimeout,
		MaxParseFailures: a.cfg.Chat.MaxParseFailures,
	}, a.logger)
}
