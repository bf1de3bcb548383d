package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/reelshelf/reelshelf-server/internal/domain"
	domainerrors "github.com/reelshelf/reelshelf-server/internal/errors"
	"github.com/reelshelf/reelshelf-server/internal/service"
)

func (s *Server) registerConversionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "requestConversion",
		Method:      http.MethodPost,
		Path:        "/api/v1/items/{id}/conversion",
		Summary:     "Request conversion",
		Description: "Queues a background conversion for the item. Rejections such as already queued are reported in the body, not as errors.",
		Tags:        []string{"Conversions"},
	}, s.handleRequestConversion)

	huma.Register(s.api, huma.Operation{
		OperationID: "cancelConversion",
		Method:      http.MethodDelete,
		Path:        "/api/v1/items/{id}/conversion",
		Summary:     "Cancel conversion",
		Description: "Removes a pending job or stops an active one",
		Tags:        []string{"Conversions"},
	}, s.handleCancelConversion)

	huma.Register(s.api, huma.Operation{
		OperationID: "getItemConversion",
		Method:      http.MethodGet,
		Path:        "/api/v1/items/{id}/conversion",
		Summary:     "Get item conversion",
		Description: "Reports whether a playable converted output exists and the item's current job, if any",
		Tags:        []string{"Conversions"},
	}, s.handleGetItemConversion)

	huma.Register(s.api, huma.Operation{
		OperationID: "dismissConversion",
		Method:      http.MethodDelete,
		Path:        "/api/v1/items/{id}/conversion/failure",
		Summary:     "Dismiss finished job",
		Description: "Removes a retained failed or completed job from the status listing",
		Tags:        []string{"Conversions"},
	}, s.handleDismissConversion)

	huma.Register(s.api, huma.Operation{
		OperationID: "convertIncompatible",
		Method:      http.MethodPost,
		Path:        "/api/v1/conversions/incompatible",
		Summary:     "Convert all incompatible items",
		Description: "Queues every item whose codecs need conversion and which has no converted output",
		Tags:        []string{"Conversions"},
	}, s.handleConvertIncompatible)

	huma.Register(s.api, huma.Operation{
		OperationID: "getConversionStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/conversions",
		Summary:     "Conversion status",
		Description: "Returns active, pending and recently finished jobs",
		Tags:        []string{"Conversions"},
	}, s.handleGetConversionStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "getConversionCache",
		Method:      http.MethodGet,
		Path:        "/api/v1/conversions/cache",
		Summary:     "Conversion cache stats",
		Description: "Returns the number and total size of converted outputs",
		Tags:        []string{"Conversions"},
	}, s.handleGetCacheStats)
}

// ItemConversionInput identifies a media item by path.
type ItemConversionInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Media item ID"`
}

// RequestConversionOutput wraps the admission result for Huma.
type RequestConversionOutput struct {
	Body service.AdmissionResult
}

// CancelConversionResponse reports whether a job was cancelled.
type CancelConversionResponse struct {
	Cancelled bool `json:"cancelled" doc:"True if a queued or converting job was cancelled"`
}

// CancelConversionOutput wraps the cancel response for Huma.
type CancelConversionOutput struct {
	Body CancelConversionResponse
}

// ItemConversionResponse describes an item's converted output and job.
type ItemConversionResponse struct {
	Converted bool                  `json:"converted" doc:"True if a playable converted output exists"`
	Path      string                `json:"path,omitempty" doc:"Converted output path"`
	Job       *domain.ConversionJob `json:"job,omitempty" doc:"Current or retained job for the item"`
}

// ItemConversionOutput wraps the item conversion response for Huma.
type ItemConversionOutput struct {
	Body ItemConversionResponse
}

// DismissConversionResponse reports whether a job was dismissed.
type DismissConversionResponse struct {
	Dismissed bool `json:"dismissed" doc:"True if a retained job was removed"`
}

// DismissConversionOutput wraps the dismiss response for Huma.
type DismissConversionOutput struct {
	Body DismissConversionResponse
}

// ConvertIncompatibleResponse reports how many jobs were queued.
type ConvertIncompatibleResponse struct {
	QueuedCount int `json:"queued_count" doc:"Number of newly queued jobs"`
}

// ConvertIncompatibleOutput wraps the bulk response for Huma.
type ConvertIncompatibleOutput struct {
	Body ConvertIncompatibleResponse
}

// ConversionStatusOutput wraps the engine snapshot for Huma.
type ConversionStatusOutput struct {
	Body service.ConversionStatus
}

// CacheStatsOutput wraps cache statistics for Huma.
type CacheStatsOutput struct {
	Body service.CacheStats
}

func (s *Server) handleRequestConversion(ctx context.Context, input *ItemConversionInput) (*RequestConversionOutput, error) {
	if err := s.requireConversions(); err != nil {
		return nil, err
	}

	result, err := s.conversions.RequestConversion(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &RequestConversionOutput{Body: result}, nil
}

func (s *Server) handleCancelConversion(ctx context.Context, input *ItemConversionInput) (*CancelConversionOutput, error) {
	if err := s.requireConversions(); err != nil {
		return nil, err
	}

	cancelled := s.conversions.Cancel(ctx, input.ID)
	return &CancelConversionOutput{Body: CancelConversionResponse{Cancelled: cancelled}}, nil
}

func (s *Server) handleGetItemConversion(ctx context.Context, input *ItemConversionInput) (*ItemConversionOutput, error) {
	if err := s.requireConversions(); err != nil {
		return nil, err
	}

	path, converted, err := s.conversions.ConvertedVersion(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	resp := ItemConversionResponse{Converted: converted, Path: path}
	if job, ok := s.conversions.Job(input.ID); ok {
		resp.Job = &job
	}
	return &ItemConversionOutput{Body: resp}, nil
}

func (s *Server) handleDismissConversion(_ context.Context, input *ItemConversionInput) (*DismissConversionOutput, error) {
	if err := s.requireConversions(); err != nil {
		return nil, err
	}

	dismissed := s.conversions.Dismiss(input.ID)
	return &DismissConversionOutput{Body: DismissConversionResponse{Dismissed: dismissed}}, nil
}

func (s *Server) handleConvertIncompatible(ctx context.Context, _ *struct{}) (*ConvertIncompatibleOutput, error) {
	if err := s.requireConversions(); err != nil {
		return nil, err
	}

	queued, err := s.conversions.RequestConversionForAllIncompatible(ctx)
	if err != nil {
		return nil, err
	}
	return &ConvertIncompatibleOutput{Body: ConvertIncompatibleResponse{QueuedCount: queued}}, nil
}

func (s *Server) handleGetConversionStatus(_ context.Context, _ *struct{}) (*ConversionStatusOutput, error) {
	if err := s.requireConversions(); err != nil {
		return nil, err
	}
	return &ConversionStatusOutput{Body: s.conversions.Status()}, nil
}

func (s *Server) handleGetCacheStats(_ context.Context, _ *struct{}) (*CacheStatsOutput, error) {
	if err := s.requireConversions(); err != nil {
		return nil, err
	}

	stats, err := s.conversions.CacheStats()
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "read conversion cache")
	}
	return &CacheStatsOutput{Body: stats}, nil
}

func (s *Server) requireConversions() error {
	if s.conversions == nil {
		return domainerrors.Unavailable("conversion service not configured")
	}
	return nil
}
