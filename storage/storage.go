// Package storage persists board state durably on behalf of the sync
// server: tasks in an Azure table, the activity feed on an Azure queue.
package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"boardsync/domain"
)

// Archive provides durable persistence for tasks and activities.
type Archive struct {
	taskTable     *aztables.Client
	activityQueue *azqueue.QueueClient
}

// New creates an Archive from the given connection string.
func New(connStr, tasksTable, activityQueue string) (*Archive, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	aq, err := azqueue.NewQueueClientFromConnectionString(connStr, activityQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Archive{taskTable: svc.NewClient(tasksTable), activityQueue: aq}, nil
}

// Tasks are partitioned by board; the full task document rides in a single
// Data column.
type taskEntity struct {
	aztables.Entity
	Title string `json:"Title"`
	Data  string `json:"Data"`
}

// SaveTask upserts the task under its board's partition.
func (a *Archive) SaveTask(ctx context.Context, task domain.Task) error {
	data, err := sonic.Marshal(task)
	if err != nil {
		return err
	}
	ent := taskEntity{
		Entity: aztables.Entity{PartitionKey: task.BoardID, RowKey: task.ID},
		Title:  task.Title,
		Data:   string(data),
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = a.taskTable.UpsertEntity(ctx, payload, nil)
	return err
}

// DeleteTask removes the task row. Missing rows are not an error.
func (a *Archive) DeleteTask(ctx context.Context, boardID, taskID string) error {
	_, err := a.taskTable.DeleteEntity(ctx, boardID, taskID, nil)
	return err
}

// FetchTasks retrieves every archived task of one board.
func (a *Archive) FetchTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + boardID + "'"
	pager := a.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			var task domain.Task
			if err := sonic.Unmarshal([]byte(ent.Data), &task); err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// AppendActivity enqueues the activity for downstream feed consumers.
func (a *Archive) AppendActivity(ctx context.Context, activity domain.Activity) error {
	data, err := sonic.Marshal(activity)
	if err != nil {
		return err
	}
	_, err = a.activityQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}
