package dynamo

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ignite/campaign-mailer/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI records the last request of each kind and returns canned output.
type fakeAPI struct {
	get       *dynamodb.GetItemInput
	getOut    *dynamodb.GetItemOutput
	put       *dynamodb.PutItemInput
	update    *dynamodb.UpdateItemInput
	updateErr error
	scans     []*dynamodb.ScanInput
	scanPages []*dynamodb.ScanOutput
	batches   []*dynamodb.BatchWriteItemInput
	batchOuts []*dynamodb.BatchWriteItemOutput
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.get = in
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOut, nil
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.put = in
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.update = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeAPI) DeleteItem(_ context.Context, _ *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeAPI) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scans = append(f.scans, in)
	if len(f.scanPages) == 0 {
		return &dynamodb.ScanOutput{}, nil
	}
	out := f.scanPages[0]
	f.scanPages = f.scanPages[1:]
	return out, nil
}

func (f *fakeAPI) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batches = append(f.batches, in)
	if len(f.batchOuts) == 0 {
		return &dynamodb.BatchWriteItemOutput{}, nil
	}
	out := f.batchOuts[0]
	f.batchOuts = f.batchOuts[1:]
	return out, nil
}

func TestCreatePutsItemWithGeneratedID(t *testing.T) {
	api := &fakeAPI{}
	s := New(api, "mailer-")

	id, err := s.Create(context.Background(), "clients", map[string]any{"email": "a@x.com"})
	require.NoError(t, err)

	require.NotNil(t, api.put)
	assert.Equal(t, "mailer-clients", aws.ToString(api.put.TableName))
	assert.Equal(t, &types.AttributeValueMemberS{Value: id}, api.put.Item["id"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "a@x.com"}, api.put.Item["email"])
}

func TestGetMissingItem(t *testing.T) {
	s := New(&fakeAPI{}, "")
	_, err := s.Get(context.Background(), "emailTracking", "C1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestGetStripsKeyAttribute(t *testing.T) {
	api := &fakeAPI{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"id":        &types.AttributeValueMemberS{Value: "C1"},
		"sentCount": &types.AttributeValueMemberN{Value: "2"},
	}}}
	doc, err := New(api, "").Get(context.Background(), "emailTracking", "C1")
	require.NoError(t, err)
	assert.Equal(t, "C1", doc.ID)
	assert.NotContains(t, doc.Data, "id")
	assert.EqualValues(t, 2, docstore.Int64(doc.Data["sentCount"]))
	assert.True(t, aws.ToBool(api.get.ConsistentRead))
}

func TestSetMergeUsesUpdateExpression(t *testing.T) {
	api := &fakeAPI{}
	err := New(api, "").Set(context.Background(), "emailTracking", "C1", map[string]any{
		"sender": "ir@fund.com", "sentCount": 2,
	}, true)
	require.NoError(t, err)

	require.NotNil(t, api.update)
	assert.Equal(t, "SET #f0 = :v0, #f1 = :v1", aws.ToString(api.update.UpdateExpression))
	assert.Equal(t, "sender", api.update.ExpressionAttributeNames["#f0"])
	assert.Equal(t, "sentCount", api.update.ExpressionAttributeNames["#f1"])
	assert.Nil(t, api.put)
}

func TestSetAndUpdateRejectUnmarshalableValues(t *testing.T) {
	api := &fakeAPI{}
	s := New(api, "")

	err := s.Set(context.Background(), "campaignLists", "C1", map[string]any{"onSend": func() {}}, true)
	assert.ErrorContains(t, err, `field "onSend"`)

	err = s.Update(context.Background(), "investors", "i1", map[string]any{"notify": make(chan int)})
	assert.ErrorContains(t, err, `field "notify"`)

	assert.Nil(t, api.update)
}

func TestQueryBuildsInFilterAndFollowsPages(t *testing.T) {
	api := &fakeAPI{scanPages: []*dynamodb.ScanOutput{
		{
			Items: []map[string]types.AttributeValue{{
				"id":            &types.AttributeValueMemberS{Value: "i1"},
				"Partner Email": &types.AttributeValueMemberS{Value: "a@x.com"},
			}},
			LastEvaluatedKey: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "i1"}},
		},
		{
			Items: []map[string]types.AttributeValue{{
				"id":            &types.AttributeValueMemberS{Value: "i2"},
				"Partner Email": &types.AttributeValueMemberS{Value: "b@x.com"},
			}},
		},
	}}

	docs, err := New(api, "").Query(context.Background(), "investors", docstore.In("listId", "L1", "L2"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a@x.com", docs[0].Data["Partner Email"])
	assert.Equal(t, "b@x.com", docs[1].Data["Partner Email"])

	require.Len(t, api.scans, 2)
	assert.Equal(t, "#f0 IN (:v0, :v1)", aws.ToString(api.scans[0].FilterExpression))
	assert.Equal(t, "listId", api.scans[0].ExpressionAttributeNames["#f0"])
	assert.NotNil(t, api.scans[1].ExclusiveStartKey)
}

func TestQueryRejectsOversizedIn(t *testing.T) {
	values := make([]any, docstore.MaxInValues+1)
	for i := range values {
		values[i] = "L"
	}
	api := &fakeAPI{}
	_, err := New(api, "").Query(context.Background(), "investors", docstore.In("listId", values...))
	assert.ErrorIs(t, err, docstore.ErrTooManyValues)
	assert.Empty(t, api.scans)
}

func TestUpdateMissingMapsConditionFailure(t *testing.T) {
	api := &fakeAPI{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("nope")}}
	err := New(api, "").Update(context.Background(), "investors", "i1", map[string]any{"listId": "L2"})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.Equal(t, "attribute_exists(#f1)", aws.ToString(api.update.ConditionExpression))
}

func TestMutateBuildsConditionalAppendAndAdd(t *testing.T) {
	api := &fakeAPI{}
	applied, err := New(api, "").Mutate(context.Background(), "emailTracking", "C1", docstore.Mutation{
		Increments:   map[string]int64{"openedCount": 1, "unreadCount": -1},
		AppendUnique: &docstore.Member{Field: "openedBy", Value: "a@x.com"},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	in := api.update
	assert.Equal(t,
		"SET #f1 = list_append(if_not_exists(#f1, :v0), :v1) ADD #f2 :v3, #f3 :v4",
		aws.ToString(in.UpdateExpression))
	assert.Equal(t, "attribute_exists(#f0) AND NOT contains(#f1, :v2)", aws.ToString(in.ConditionExpression))
	assert.Equal(t, "openedBy", in.ExpressionAttributeNames["#f1"])
	assert.Equal(t, "openedCount", in.ExpressionAttributeNames["#f2"])
	assert.Equal(t, "unreadCount", in.ExpressionAttributeNames["#f3"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "-1"}, in.ExpressionAttributeValues[":v4"])
	assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, in.ReturnValuesOnConditionCheckFailure)
}

func TestMutateConditionFailureOutcomes(t *testing.T) {
	m := docstore.Mutation{
		Increments:   map[string]int64{"openedCount": 1},
		AppendUnique: &docstore.Member{Field: "openedBy", Value: "a@x.com"},
	}

	// Existing item returned: member already present.
	api := &fakeAPI{updateErr: &types.ConditionalCheckFailedException{
		Item: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "C1"}},
	}}
	applied, err := New(api, "").Mutate(context.Background(), "emailTracking", "C1", m)
	require.NoError(t, err)
	assert.False(t, applied)

	// No item returned: the record does not exist.
	api = &fakeAPI{updateErr: &types.ConditionalCheckFailedException{}}
	_, err = New(api, "").Mutate(context.Background(), "emailTracking", "C1", m)
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	// Anything else is wrapped.
	api = &fakeAPI{updateErr: errors.New("throttled")}
	_, err = New(api, "").Mutate(context.Background(), "emailTracking", "C1", m)
	assert.ErrorContains(t, err, "throttled")
}

func TestBatchRetriesUnprocessedItems(t *testing.T) {
	unprocessed := map[string][]types.WriteRequest{
		"investors": {{DeleteRequest: &types.DeleteRequest{Key: key("b")}}},
	}
	api := &fakeAPI{batchOuts: []*dynamodb.BatchWriteItemOutput{
		{UnprocessedItems: unprocessed},
		{},
	}}
	s := New(api, "")

	b := s.NewBatch()
	b.Set("investors", "a", map[string]any{"listId": "L1"})
	b.Delete("investors", "b")
	assert.Equal(t, 2, b.Len())
	require.NoError(t, b.Commit(context.Background()))

	require.Len(t, api.batches, 2)
	assert.Len(t, api.batches[0].RequestItems["investors"], 2)
	assert.Equal(t, unprocessed, api.batches[1].RequestItems)
	assert.Equal(t, 0, b.Len())
}

func TestBatchLimit(t *testing.T) {
	s := New(&fakeAPI{}, "")
	assert.Equal(t, MaxBatchSize, s.MaxBatchSize())

	b := s.NewBatch()
	for i := 0; i <= MaxBatchSize; i++ {
		b.Delete("investors", "x")
	}
	assert.ErrorIs(t, b.Commit(context.Background()), docstore.ErrBatchTooLarge)
}
