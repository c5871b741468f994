package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"templater/internal/models"
)

// fakeRedis keeps lists in memory. BRPOP returns redis.Nil when the list
// is empty instead of blocking.
type fakeRedis struct {
	mu      sync.Mutex
	lists   map[string][]string
	popErr  error
	pingErr error
}

func newFakeRedis() *fakeRedis { return &fakeRedis{lists: map[string][]string{}} }

func (f *fakeRedis) LPush(_ context.Context, key string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.lists[key] = append([]string{fmt.Sprint(v)}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) BRPop(_ context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.popErr != nil {
		return redis.NewStringSliceResult(nil, f.popErr)
	}
	for _, k := range keys {
		l := f.lists[k]
		if len(l) == 0 {
			continue
		}
		last := l[len(l)-1]
		f.lists[k] = l[:len(l)-1]
		return redis.NewStringSliceResult([]string{k, last}, nil)
	}
	return redis.NewStringSliceResult(nil, redis.Nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func testMessage(id string) Message {
	return Message{
		ID: id,
		Job: models.RenderJob{
			Template: "hello.txt",
			Inputs:   []models.Input{models.InputFromData(models.Bindings{"name": models.String(id)})},
			Output:   models.ParseOutputRef("https://bucket.example.com/" + id + ".txt"),
		},
	}
}

func TestRedisQueueFIFO(t *testing.T) {
	rdb := newFakeRedis()
	q := NewRedisQueue(rdb, "templater:jobs", "")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testMessage("first")))
	require.NoError(t, q.Enqueue(ctx, testMessage("second")))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NoError(t, d.Err)
	assert.Equal(t, "first", d.Message.ID)
	assert.Equal(t, models.TemplateRef("hello.txt"), d.Message.Job.Template)
	assert.Equal(t, models.OutputToURL, d.Message.Job.Output.Kind)
	assert.NoError(t, d.Ack(ctx))

	d, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", d.Message.ID)

	d, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestRedisQueueMalformedMessage(t *testing.T) {
	rdb := newFakeRedis()
	rdb.lists["q"] = []string{`{"id":"x","job":{"template":1}}`}
	q := NewRedisQueue(rdb, "q", "")

	d, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Error(t, d.Err)
	assert.Contains(t, d.Raw, `"template":1`)
}

func TestRedisQueueErrors(t *testing.T) {
	rdb := newFakeRedis()
	rdb.popErr = fmt.Errorf("connection reset")
	rdb.pingErr = fmt.Errorf("connection refused")
	q := NewRedisQueue(rdb, "q", "")

	_, err := q.Receive(context.Background())
	assert.Error(t, err)
	assert.Error(t, q.Ping(context.Background()))
}

func TestRedisQueuePublish(t *testing.T) {
	rdb := newFakeRedis()
	ctx := context.Background()

	require.NoError(t, NewRedisQueue(rdb, "q", "").Publish(ctx, Result{ID: "a", Status: "dispatched"}))
	assert.Empty(t, rdb.lists)

	require.NoError(t, NewRedisQueue(rdb, "q", "q:results").Publish(ctx, Result{ID: "a", Status: "failed", Code: "INPUT_FETCH_ERROR", Error: "boom"}))
	require.Len(t, rdb.lists["q:results"], 1)

	var got Result
	require.NoError(t, json.Unmarshal([]byte(rdb.lists["q:results"][0]), &got))
	assert.Equal(t, Result{ID: "a", Status: "failed", Code: "INPUT_FETCH_ERROR", Error: "boom"}, got)
}

type fakeSQS struct {
	mu       sync.Mutex
	sent     []*sqs.SendMessageInput
	deleted  []string
	messages []types.Message
	lastRecv *sqs.ReceiveMessageInput
	err      error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRecv = in
	if f.err != nil {
		return nil, f.err
	}
	if len(f.messages) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	m := f.messages[0]
	f.messages = f.messages[1:]
	return &sqs.ReceiveMessageOutput{Messages: []types.Message{m}}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) GetQueueAttributes(context.Context, *sqs.GetQueueAttributesInput, ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{}, f.err
}

func TestSQSQueueEnqueue(t *testing.T) {
	client := &fakeSQS{}
	q := NewSQSQueue(client, "https://sqs.example.com/jobs", "")

	require.NoError(t, q.Enqueue(context.Background(), testMessage("a")))
	require.Len(t, client.sent, 1)
	assert.Equal(t, "https://sqs.example.com/jobs", aws.ToString(client.sent[0].QueueUrl))

	var got Message
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(client.sent[0].MessageBody)), &got))
	assert.Equal(t, "a", got.ID)
}

func TestSQSQueueReceiveAndAck(t *testing.T) {
	body, err := json.Marshal(testMessage("a"))
	require.NoError(t, err)
	client := &fakeSQS{messages: []types.Message{{
		Body:          aws.String(string(body)),
		ReceiptHandle: aws.String("rh-1"),
	}}}
	q := NewSQSQueue(client, "https://sqs.example.com/jobs", "")
	ctx := context.Background()

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NoError(t, d.Err)
	assert.Equal(t, "a", d.Message.ID)
	assert.Equal(t, int32(1), client.lastRecv.MaxNumberOfMessages)
	assert.Equal(t, int32(20), client.lastRecv.WaitTimeSeconds)
	assert.Empty(t, client.deleted)

	require.NoError(t, d.Ack(ctx))
	assert.Equal(t, []string{"rh-1"}, client.deleted)

	d, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestSQSQueuePublish(t *testing.T) {
	client := &fakeSQS{}
	ctx := context.Background()

	require.NoError(t, NewSQSQueue(client, "jobs", "").Publish(ctx, Result{ID: "a"}))
	assert.Empty(t, client.sent)

	require.NoError(t, NewSQSQueue(client, "jobs", "results").Publish(ctx, Result{ID: "a", Status: "dispatched"}))
	require.Len(t, client.sent, 1)
	assert.Equal(t, "results", aws.ToString(client.sent[0].QueueUrl))

	client.err = fmt.Errorf("throttled")
	assert.Error(t, NewSQSQueue(client, "jobs", "results").Publish(ctx, Result{ID: "b"}))
	assert.Error(t, NewSQSQueue(client, "jobs", "results").Ping(ctx))
}
