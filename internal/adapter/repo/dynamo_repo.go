package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"videojobs/internal/domain"
)

const (
	dynamoCreateCondition = "attribute_not_exists(job_id)"
	dynamoUpdateCondition = "version = :expected"
	dynamoStaleFilter     = "#status = :status AND lease_at < :cutoff"
)

// DynamoAPI is the subset of the DynamoDB client the job store calls.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type dynamoJobItem struct {
	JobID           string `dynamodbav:"job_id"`
	Filename        string `dynamodbav:"filename"`
	ObjectKey       string `dynamodbav:"object_key"`
	Bucket          string `dynamodbav:"bucket"`
	Status          string `dynamodbav:"status"`
	ProgressPercent int    `dynamodbav:"progress_percent"`
	ResultJSON      string `dynamodbav:"result_json,omitempty"`
	ErrorJSON       string `dynamodbav:"error_json,omitempty"`
	CreatedAt       string `dynamodbav:"created_at"`
	UpdatedAt       string `dynamodbav:"updated_at"`
	HeartbeatAt     string `dynamodbav:"heartbeat_at,omitempty"`
	LeaseAt         string `dynamodbav:"lease_at"`
	Version         int64  `dynamodbav:"version"`
}

// DynamoJobStore implements domain.JobStore on a DynamoDB table keyed by
// job_id. Version fencing uses conditional writes.
type DynamoJobStore struct {
	api   DynamoAPI
	table string
	now   func() time.Time
}

func NewDynamoJobStore(api DynamoAPI, table string) *DynamoJobStore {
	return &DynamoJobStore{api: api, table: table, now: time.Now}
}

func (s *DynamoJobStore) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	rec, err := domain.PrepareNew(job, s.now())
	if err != nil {
		return nil, err
	}
	item, err := toDynamoItem(rec)
	if err != nil {
		return nil, err
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String(dynamoCreateCondition),
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, classifyDynamoError("put job", err)
	}
	return rec, nil
}

func (s *DynamoJobStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, domain.ErrNotFound
	}
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{"job_id": &types.AttributeValueMemberS{Value: jobID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classifyDynamoError("get job", err)
	}
	if len(out.Item) == 0 {
		return nil, domain.ErrNotFound
	}
	return fromDynamoItem(out.Item)
}

func (s *DynamoJobStore) Update(ctx context.Context, jobID string, mutate domain.Mutator, expectedVersion int64) (*domain.Job, error) {
	current, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return current, domain.ErrVersionConflict
	}
	next, err := domain.ApplyMutation(current, mutate, s.now())
	if err != nil {
		return nil, err
	}
	item, err := toDynamoItem(next)
	if err != nil {
		return nil, err
	}
	expected, err := attributevalue.Marshal(expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("marshal expected version: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      item,
		ConditionExpression:       aws.String(dynamoUpdateCondition),
		ExpressionAttributeValues: map[string]types.AttributeValue{":expected": expected},
	})
	if err != nil {
		if !isConditionFailed(err) {
			return nil, classifyDynamoError("put job", err)
		}
		latest, getErr := s.Get(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}
		return latest, domain.ErrVersionConflict
	}
	return next, nil
}

// ListStale scans the table. Acceptable for the sweeper's low frequency.
func (s *DynamoJobStore) ListStale(ctx context.Context, status domain.JobStatus, cutoff time.Time, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		out      []*domain.Job
		startKey map[string]types.AttributeValue
	)
	for {
		page, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:                aws.String(s.table),
			FilterExpression:         aws.String(dynamoStaleFilter),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status": &types.AttributeValueMemberS{Value: string(status)},
				":cutoff": &types.AttributeValueMemberS{Value: formatStoreTime(cutoff)},
			},
			ExclusiveStartKey: startKey,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return nil, classifyDynamoError("scan stale jobs", err)
		}
		for _, item := range page.Items {
			job, err := fromDynamoItem(item)
			if err != nil {
				return nil, err
			}
			out = append(out, job)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func toDynamoItem(job *domain.Job) (map[string]types.AttributeValue, error) {
	result, err := encodeResult(job.Result)
	if err != nil {
		return nil, err
	}
	jobErr, err := encodeJobError(job.Error)
	if err != nil {
		return nil, err
	}
	item := dynamoJobItem{
		JobID:           job.ID,
		Filename:        job.Filename,
		ObjectKey:       job.ObjectKey,
		Bucket:          job.Bucket,
		Status:          string(job.Status),
		ProgressPercent: job.ProgressPercent,
		ResultJSON:      string(result),
		ErrorJSON:       string(jobErr),
		CreatedAt:       formatStoreTime(job.CreatedAt),
		UpdatedAt:       formatStoreTime(job.UpdatedAt),
		LeaseAt:         formatStoreTime(domain.LeaseTime(job)),
		Version:         job.Version,
	}
	if job.HeartbeatAt != nil {
		item.HeartbeatAt = formatStoreTime(*job.HeartbeatAt)
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("marshal job item: %w", err)
	}
	return av, nil
}

func fromDynamoItem(av map[string]types.AttributeValue) (*domain.Job, error) {
	var item dynamoJobItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("unmarshal job item: %w", err)
	}
	job := &domain.Job{
		ID:              item.JobID,
		Filename:        item.Filename,
		ObjectKey:       item.ObjectKey,
		Bucket:          item.Bucket,
		Status:          domain.JobStatus(item.Status),
		ProgressPercent: item.ProgressPercent,
		Version:         item.Version,
	}
	var err error
	if job.CreatedAt, err = parseStoreTime(item.CreatedAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseStoreTime(item.UpdatedAt); err != nil {
		return nil, err
	}
	if item.HeartbeatAt != "" {
		hb, err := parseStoreTime(item.HeartbeatAt)
		if err != nil {
			return nil, err
		}
		job.HeartbeatAt = &hb
	}
	if job.Result, err = decodeResult([]byte(item.ResultJSON)); err != nil {
		return nil, err
	}
	if job.Error, err = decodeJobError([]byte(item.ErrorJSON)); err != nil {
		return nil, err
	}
	return job, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func classifyDynamoError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "ThrottlingException",
			"RequestLimitExceeded", "InternalServerError", "ServiceUnavailable":
			return fmt.Errorf("%s: %w", op, domain.Transient(err))
		case "ValidationException":
			return fmt.Errorf("%s: %w: %s", op, domain.ErrInvalidInput, apiErr.ErrorMessage())
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, domain.Transient(err))
}

var (
	_ domain.JobStore       = (*DynamoJobStore)(nil)
	_ domain.StaleJobLister = (*DynamoJobStore)(nil)
)
