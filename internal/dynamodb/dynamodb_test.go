package dynamodb

import (
	"context"
	"errors"
	"testing"

	"github.com/Philanthropists/imapfeed/internal/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	items  map[string]map[string]types.AttributeValue
	putErr error
}

func (f *fakeAPI) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	if f.items == nil {
		f.items = make(map[string]map[string]types.AttributeValue)
	}

	id := params.Item["id"].(*types.AttributeValueMemberS).Value
	f.items[aws.ToString(params.TableName)+"/"+id] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	id := params.Key["id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[aws.ToString(params.TableName)+"/"+id]}, nil
}

func TestEmitAndGet(t *testing.T) {
	api := &fakeAPI{}
	sink := NewSink(api, "imapfeed-events")
	ctx := context.Background()

	event := events.New("mail.part", "invoice.pdf", map[string]interface{}{"size": 12})
	require.NoError(t, sink.Emit(ctx, event))

	item := api.items["imapfeed-events/"+event.ID]
	require.NotNil(t, item)
	assert.Equal(t, "mail.part", convertType(item["type"]))

	got, err := sink.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, event.Type, got.Type)
	assert.True(t, event.TS.Equal(got.TS))
	assert.Equal(t, float64(12), got.Payload.Data["size"])
}

func TestGetMissing(t *testing.T) {
	_, err := NewSink(&fakeAPI{}, "t").Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmitFailure(t *testing.T) {
	failure := errors.New("throttled")
	sink := NewSink(&fakeAPI{putErr: failure}, "t")

	err := sink.Emit(context.Background(), events.New("mail.text", "x", nil))
	assert.ErrorIs(t, err, failure)

	assert.Error(t, sink.Emit(context.Background(), events.Event{}))
}
