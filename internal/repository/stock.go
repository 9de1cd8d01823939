package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"order-concierge/internal/domain"
)

// maxTransactItems is DynamoDB's limit on actions per transaction.
const maxTransactItems = 100

var errNoStockTable = errors.New("repository: stock table not configured")

func stockKey(slug string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"slug": &types.AttributeValueMemberS{Value: slug},
	}
}

// Commit decrements every tracked line in one DynamoDB transaction. The rows
// are read first to learn which products are tracked: tracked lines become
// updates guarded by "stock >= qty", untracked lines become condition checks
// that leave the stock attribute alone. Every action also pins the tracked
// flag it was built from, so either every line goes through as planned or
// none does. A failed stock guard is reported as
// *domain.InsufficientStockError with the stock DynamoDB saw. On success the
// post-commit quantities are read back with a strongly consistent batch get.
func (c *Client) Commit(ctx context.Context, lines []domain.OrderLine) (map[string]int, error) {
	if c.stockTable == "" {
		return nil, errNoStockTable
	}
	if len(lines) == 0 {
		return map[string]int{}, nil
	}
	if len(lines) > maxTransactItems {
		return nil, fmt.Errorf("repository: Commit: %d lines exceeds transaction limit", len(lines))
	}
	slugs := make([]string, len(lines))
	for i, l := range lines {
		if l.Qty <= 0 {
			return nil, fmt.Errorf("repository: Commit: invalid quantity %d for %q", l.Qty, l.Slug)
		}
		slugs[i] = l.Slug
	}
	rows, err := c.stockRows(ctx, slugs)
	if err != nil {
		return nil, fmt.Errorf("repository: Commit: %w", err)
	}

	items := make([]types.TransactWriteItem, 0, len(lines))
	tracked := make([]bool, len(lines))
	for i, l := range lines {
		row, ok := rows[l.Slug]
		if !ok {
			return nil, fmt.Errorf("repository: Commit: %w: %q", domain.ErrNotFound, l.Slug)
		}
		tracked[i] = boolAttr(row, "tracked")
		if !tracked[i] {
			items = append(items, types.TransactWriteItem{
				ConditionCheck: &types.ConditionCheck{
					TableName:           aws.String(c.stockTable),
					Key:                 stockKey(l.Slug),
					ConditionExpression: aws.String("attribute_exists(slug) AND (attribute_not_exists(tracked) OR tracked = :tracked)"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":tracked": &types.AttributeValueMemberBOOL{Value: false},
					},
					ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
				},
			})
			continue
		}
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           aws.String(c.stockTable),
				Key:                 stockKey(l.Slug),
				UpdateExpression:    aws.String("SET stock = stock - :qty"),
				ConditionExpression: aws.String("attribute_exists(slug) AND tracked = :tracked AND stock >= :qty"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":qty":     &types.AttributeValueMemberN{Value: strconv.Itoa(l.Qty)},
					":tracked": &types.AttributeValueMemberBOOL{Value: true},
				},
				ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
			},
		})
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			if reason := cancellationError(lines, tracked, canceled.CancellationReasons); reason != nil {
				return nil, reason
			}
		}
		return nil, fmt.Errorf("repository: Commit: %w", err)
	}
	return c.stockLevels(ctx, slugs)
}

var errTrackingChanged = errors.New("repository: product tracking changed during commit")

// cancellationError explains the first failed condition of a cancelled
// commit transaction.
func cancellationError(lines []domain.OrderLine, tracked []bool, reasons []types.CancellationReason) error {
	for i, r := range reasons {
		if i >= len(lines) || aws.ToString(r.Code) != "ConditionalCheckFailed" {
			continue
		}
		if len(r.Item) == 0 {
			return fmt.Errorf("repository: Commit: %w: %q", domain.ErrNotFound, lines[i].Slug)
		}
		if boolAttr(r.Item, "tracked") != tracked[i] {
			return fmt.Errorf("%w: %q", errTrackingChanged, lines[i].Slug)
		}
		available, _ := intAttr(r.Item, "stock")
		return &domain.InsufficientStockError{Slug: lines[i].Slug, Requested: lines[i].Qty, Available: max(available, 0)}
	}
	return nil
}

// stockRows reads the stock rows of slugs with a strongly consistent batch
// get, keyed by slug. Missing rows are absent from the result.
func (c *Client) stockRows(ctx context.Context, slugs []string) (map[string]map[string]types.AttributeValue, error) {
	seen := make(map[string]bool, len(slugs))
	keys := make([]map[string]types.AttributeValue, 0, len(slugs))
	for _, s := range slugs {
		if !seen[s] {
			seen[s] = true
			keys = append(keys, stockKey(s))
		}
	}
	out := make(map[string]map[string]types.AttributeValue, len(keys))
	pending := map[string]types.KeysAndAttributes{
		c.stockTable: {
			Keys:                 keys,
			ConsistentRead:       aws.Bool(true),
			ProjectionExpression: aws.String("slug, stock, tracked"),
		},
	}
	for attempt := 0; len(pending) > 0; attempt++ {
		if attempt == 3 {
			return nil, errors.New("repository: stock read left keys unprocessed")
		}
		res, err := c.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: pending})
		if err != nil {
			return nil, fmt.Errorf("repository: stock read: %w", err)
		}
		for _, item := range res.Responses[c.stockTable] {
			slug, err := strAttr(item, "slug")
			if err != nil {
				return nil, err
			}
			out[slug] = item
		}
		pending = res.UnprocessedKeys
	}
	return out, nil
}

func (c *Client) stockLevels(ctx context.Context, slugs []string) (map[string]int, error) {
	rows, err := c.stockRows(ctx, slugs)
	if err != nil {
		return nil, fmt.Errorf("repository: read back: %w", err)
	}
	out := make(map[string]int, len(rows))
	for slug, row := range rows {
		qty, err := intAttr(row, "stock")
		if err != nil {
			return nil, err
		}
		out[slug] = qty
	}
	return out, nil
}

// LoadStock scans the stock table. It backs both ledger seeding and the
// catalog when no catalog service is configured.
func (c *Client) LoadStock(ctx context.Context) ([]domain.MenuItem, error) {
	if c.stockTable == "" {
		return nil, errNoStockTable
	}
	var (
		products []domain.MenuItem
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(c.stockTable),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: LoadStock scan: %w", err)
		}
		for _, item := range out.Items {
			p, err := itemToProduct(item)
			if err != nil {
				return nil, fmt.Errorf("repository: LoadStock decode: %w", err)
			}
			products = append(products, p)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return products, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// SetStock overwrites the persisted stock of an existing product.
func (c *Client) SetStock(ctx context.Context, slug string, qty int) error {
	if c.stockTable == "" {
		return errNoStockTable
	}
	if qty < 0 {
		return fmt.Errorf("repository: SetStock: negative quantity %d", qty)
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.stockTable),
		Key:                 stockKey(slug),
		UpdateExpression:    aws.String("SET stock = :qty"),
		ConditionExpression: aws.String("attribute_exists(slug)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":qty": &types.AttributeValueMemberN{Value: strconv.Itoa(qty)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("repository: SetStock %q: %w", slug, domain.ErrNotFound)
		}
		return fmt.Errorf("repository: SetStock: %w", err)
	}
	return nil
}

func itemToProduct(item map[string]types.AttributeValue) (domain.MenuItem, error) {
	slug, err := strAttr(item, "slug")
	if err != nil {
		return domain.MenuItem{}, err
	}
	name, _ := strAttr(item, "name")
	price, _ := floatAttr(item, "price")
	stock, err := intAttr(item, "stock")
	if err != nil {
		return domain.MenuItem{}, err
	}
	return domain.MenuItem{
		Slug:    slug,
		Name:    name,
		Price:   price,
		Stock:   stock,
		Tracked: boolAttr(item, "tracked"),
	}, nil
}

// PutProduct creates or replaces a stock row. Used by the seed command.
func (c *Client) PutProduct(ctx context.Context, p domain.MenuItem) error {
	if c.stockTable == "" {
		return errNoStockTable
	}
	if p.Slug == "" {
		return errors.New("repository: PutProduct: slug is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.stockTable),
		Item: map[string]types.AttributeValue{
			"slug":    &types.AttributeValueMemberS{Value: p.Slug},
			"name":    &types.AttributeValueMemberS{Value: p.Name},
			"price":   &types.AttributeValueMemberN{Value: strconv.FormatFloat(p.Price, 'f', 2, 64)},
			"stock":   &types.AttributeValueMemberN{Value: strconv.Itoa(max(p.Stock, 0))},
			"tracked": &types.AttributeValueMemberBOOL{Value: p.Tracked},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: PutProduct: %w", err)
	}
	return nil
}
