package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"

	"github.com/bleepstore/s3pipe/internal/config"
)

// cosmosPartition is the partition key value shared by all transfer items.
const cosmosPartition = "transfer"

// cosmosContainer is the subset of *azcosmos.ContainerClient the journal
// uses.
type cosmosContainer interface {
	CreateItem(ctx context.Context, partitionKey azcosmos.PartitionKey, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	ReplaceItem(ctx context.Context, partitionKey azcosmos.PartitionKey, itemID string, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	ReadItem(ctx context.Context, partitionKey azcosmos.PartitionKey, itemID string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	NewQueryItemsPager(query string, partitionKey azcosmos.PartitionKey, o *azcosmos.QueryOptions) *runtime.Pager[azcosmos.QueryItemsResponse]
}

// Cosmos is a Journal stored in an Azure Cosmos DB container whose
// partition key path is /type.
type Cosmos struct {
	client cosmosContainer
}

// cosmosItem is the stored form of a Record.
type cosmosItem struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Destination string `json:"destination"`
	Provider    string `json:"provider"`
	Variant     string `json:"variant"`
	State       string `json:"state"`
	Bytes       int64  `json:"bytes"`
	Parts       int64  `json:"parts"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

// NewCosmos creates a journal in cfg.Database/cfg.Container. Without a
// master key the Azure default credential chain is used.
func NewCosmos(cfg config.CosmosConfig) (*Cosmos, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("cosmos endpoint is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("cosmos database name is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("cosmos container name is required")
	}

	opts := &azcosmos.ClientOptions{ClientOptions: policy.ClientOptions{}}
	var (
		client *azcosmos.Client
		err    error
	)
	if cfg.MasterKey != "" {
		cred, kerr := azcosmos.NewKeyCredential(cfg.MasterKey)
		if kerr != nil {
			return nil, fmt.Errorf("creating cosmos key credential: %w", kerr)
		}
		client, err = azcosmos.NewClientWithKey(cfg.Endpoint, cred, opts)
	} else {
		cred, cerr := azidentity.NewDefaultAzureCredential(nil)
		if cerr != nil {
			return nil, fmt.Errorf("creating azure credential: %w", cerr)
		}
		client, err = azcosmos.NewClient(cfg.Endpoint, cred, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("creating cosmos client: %w", err)
	}

	container, err := client.NewContainer(cfg.Database, cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("getting container client: %w", err)
	}
	return NewCosmosWithClient(container), nil
}

// NewCosmosWithClient creates a journal with a pre-configured container
// client. This is primarily useful for testing with mock clients.
func NewCosmosWithClient(client cosmosContainer) *Cosmos {
	return &Cosmos{client: client}
}

func partitionKey() azcosmos.PartitionKey {
	return azcosmos.NewPartitionKeyString(cosmosPartition)
}

// hasStatus reports whether err is a Cosmos response with the given status.
func hasStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// Begin implements Journal.
func (j *Cosmos) Begin(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(recordToItem(rec))
	if err != nil {
		return fmt.Errorf("marshaling transfer %s: %w", rec.ID, err)
	}
	_, err = j.client.CreateItem(ctx, partitionKey(), data, nil)
	if hasStatus(err, http.StatusConflict) {
		return fmt.Errorf("transfer already recorded: %s", rec.ID)
	}
	if err != nil {
		return fmt.Errorf("inserting transfer %s: %w", rec.ID, err)
	}
	return nil
}

// Finish implements Journal.
func (j *Cosmos) Finish(ctx context.Context, rec *Record) error {
	item, err := j.read(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("updating transfer %s: %w", rec.ID, err)
	}
	item.State = string(rec.State)
	item.Bytes = rec.Bytes
	item.Parts = rec.Parts
	item.Error = rec.Error
	item.FinishedAt = rec.FinishedAt.UTC().Format(timeFormat)

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshaling transfer %s: %w", rec.ID, err)
	}
	if _, err := j.client.ReplaceItem(ctx, partitionKey(), rec.ID, data, nil); err != nil {
		return fmt.Errorf("updating transfer %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements Journal.
func (j *Cosmos) Get(ctx context.Context, id string) (*Record, error) {
	item, err := j.read(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading transfer %s: %w", id, err)
	}
	return item.record()
}

func (j *Cosmos) read(ctx context.Context, id string) (*cosmosItem, error) {
	resp, err := j.client.ReadItem(ctx, partitionKey(), id, nil)
	if hasStatus(err, http.StatusNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var item cosmosItem
	if err := json.Unmarshal(resp.Value, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling transfer %s: %w", id, err)
	}
	return &item, nil
}

// List implements Journal.
func (j *Cosmos) List(ctx context.Context, limit int) ([]Record, error) {
	pager := j.client.NewQueryItemsPager("SELECT * FROM c WHERE c.type = @type", partitionKey(), &azcosmos.QueryOptions{
		QueryParameters: []azcosmos.QueryParameter{{Name: "@type", Value: cosmosPartition}},
	})

	var records []Record
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing transfers: %w", err)
		}
		for _, data := range resp.Items {
			var item cosmosItem
			if err := json.Unmarshal(data, &item); err != nil {
				return nil, fmt.Errorf("unmarshaling transfer: %w", err)
			}
			rec, err := item.record()
			if err != nil {
				return nil, err
			}
			records = append(records, *rec)
		}
	}

	slices.SortStableFunc(records, func(a, b Record) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close implements Journal.
func (j *Cosmos) Close() error {
	return nil
}

func recordToItem(rec *Record) cosmosItem {
	item := cosmosItem{
		ID:          rec.ID,
		Type:        cosmosPartition,
		Destination: rec.Destination,
		Provider:    rec.Provider,
		Variant:     rec.Variant,
		State:       string(rec.State),
		Bytes:       rec.Bytes,
		Parts:       rec.Parts,
		Error:       rec.Error,
		StartedAt:   rec.StartedAt.UTC().Format(timeFormat),
	}
	if !rec.FinishedAt.IsZero() {
		item.FinishedAt = rec.FinishedAt.UTC().Format(timeFormat)
	}
	return item
}

func (item *cosmosItem) record() (*Record, error) {
	rec := &Record{
		ID:          item.ID,
		Destination: item.Destination,
		Provider:    item.Provider,
		Variant:     item.Variant,
		State:       State(item.State),
		Bytes:       item.Bytes,
		Parts:       item.Parts,
		Error:       item.Error,
	}
	var err error
	if rec.StartedAt, err = parseTime(item.StartedAt); err != nil {
		return nil, err
	}
	if rec.FinishedAt, err = parseTime(item.FinishedAt); err != nil {
		return nil, err
	}
	return rec, nil
}
