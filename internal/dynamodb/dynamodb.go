package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Philanthropists/imapfeed/internal/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrNotFound is returned by Get when no item has the requested id.
var ErrNotFound = errors.New("event not found")

// API is the subset of the DynamoDB client used by the sink.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Sink stores every event as one item keyed by its id.
type Sink struct {
	api   API
	table string
}

func NewClient(ctx context.Context, region string) (API, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func NewSink(api API, table string) *Sink {
	return &Sink{api: api, table: table}
}

func (s *Sink) Emit(ctx context.Context, event events.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	data, err := event.DataJSON()
	if err != nil {
		return err
	}

	item := map[string]types.AttributeValue{
		"id":      &types.AttributeValueMemberS{Value: event.ID},
		"source":  &types.AttributeValueMemberS{Value: event.Source},
		"type":    &types.AttributeValueMemberS{Value: event.Type},
		"ts":      &types.AttributeValueMemberS{Value: event.TS.Format(time.RFC3339Nano)},
		"message": &types.AttributeValueMemberS{Value: event.Payload.Message},
		"data":    &types.AttributeValueMemberS{Value: data},
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("putting event %s into %s: %w", event.ID, s.table, err)
	}

	return nil
}

// Get reads back the event stored under id.
func (s *Sink) Get(ctx context.Context, id string) (events.Event, error) {
	res, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return events.Event{}, err
	}
	if len(res.Item) == 0 {
		return events.Event{}, ErrNotFound
	}

	values := make(map[string]string, len(res.Item))
	for k, v := range res.Item {
		if s, ok := convertType(v).(string); ok {
			values[k] = s
		}
	}

	ts, err := time.Parse(time.RFC3339Nano, values["ts"])
	if err != nil {
		return events.Event{}, fmt.Errorf("event %s has invalid ts: %w", id, err)
	}

	event := events.Event{
		ID:     values["id"],
		Source: values["source"],
		Type:   values["type"],
		TS:     ts,
		Payload: events.Payload{
			Message: values["message"],
		},
	}
	if err := event.SetDataJSON(values["data"]); err != nil {
		return events.Event{}, err
	}

	return event, nil
}

func convertType(i interface{}) interface{} {
	var value interface{}

	switch j := i.(type) {
	case *types.AttributeValueMemberS:
		value = j.Value
	case *types.AttributeValueMemberN:
		value = j.Value
	case *types.AttributeValueMemberB:
		value = j.Value
	case *types.AttributeValueMemberBOOL:
		value = j.Value
	case *types.AttributeValueMemberNULL:
		value = nil
	default:
		value = "invalid"
	}

	return value
}
