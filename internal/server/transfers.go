package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/bleepstore/s3pipe/internal/journal"
)

// ListTransfersInput selects how many journal records to return.
type ListTransfersInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Maximum number of transfers to return"`
}

// ListTransfersOutput is the Huma output struct for GET /transfers.
type ListTransfersOutput struct {
	Body struct {
		Transfers []journal.Record `json:"transfers" doc:"Transfers, most recent first"`
	}
}

// GetTransferInput names one transfer.
type GetTransferInput struct {
	ID string `path:"id" doc:"Transfer id"`
}

// GetTransferOutput is the Huma output struct for GET /transfers/{id}.
type GetTransferOutput struct {
	Body journal.Record
}

func (s *Server) registerTransferRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-transfers",
		Method:      http.MethodGet,
		Path:        "/transfers",
		Summary:     "List transfers",
		Description: "Returns recorded transfers, most recent first.",
		Tags:        []string{"Transfers"},
	}, func(ctx context.Context, input *ListTransfersInput) (*ListTransfersOutput, error) {
		records, err := s.journal.List(ctx, input.Limit)
		if err != nil {
			s.logger.Error("Listing transfers failed", "error", err)
			return nil, huma.Error500InternalServerError("listing transfers failed")
		}
		out := &ListTransfersOutput{}
		out.Body.Transfers = records
		if out.Body.Transfers == nil {
			out.Body.Transfers = []journal.Record{}
		}
		return out, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-transfer",
		Method:      http.MethodGet,
		Path:        "/transfers/{id}",
		Summary:     "Get transfer",
		Description: "Returns one recorded transfer.",
		Tags:        []string{"Transfers"},
	}, func(ctx context.Context, input *GetTransferInput) (*GetTransferOutput, error) {
		rec, err := s.journal.Get(ctx, input.ID)
		if errors.Is(err, journal.ErrNotFound) {
			return nil, huma.Error404NotFound("transfer " + input.ID + " not found")
		}
		if err != nil {
			s.logger.Error("Reading transfer failed", "transfer_id", input.ID, "error", err)
			return nil, huma.Error500InternalServerError("reading transfer failed")
		}
		return &GetTransferOutput{Body: *rec}, nil
	})
}
