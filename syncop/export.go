package syncop

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	OperationStorageExport = "storage_export"
	DefaultExportFunction  = "sync-to-gcs"
)

// StorageExportRequest is the body sent to the cloud storage export.
type StorageExportRequest struct {
	FileName   string `json:"fileName"`
	BucketName string `json:"bucketName,omitempty"`
}

// Validate requires a target file.
func (r StorageExportRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FileName, validation.Required),
	)
}

// StorageExportResponse is the export reply. The remote side reports
// failure through Success even when the HTTP call succeeded.
type StorageExportResponse struct {
	Success bool   `json:"success"`
	GCPPath string `json:"gcpPath,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StorageExportOption customizes a StorageExport.
type StorageExportOption func(*StorageExport)

// WithExportFunction overrides the proxy function name.
func WithExportFunction(name string) StorageExportOption {
	return func(e *StorageExport) {
		if name != "" {
			e.function = name
		}
	}
}

// StorageExport pushes one file to cloud storage.
type StorageExport struct {
	invoker  Invoker
	function string
	request  StorageExportRequest
}

var _ Operation = &StorageExport{}

// NewStorageExport returns the export operation for req.
func NewStorageExport(invoker Invoker, req StorageExportRequest, opts ...StorageExportOption) *StorageExport {
	e := &StorageExport{
		invoker:  invoker,
		function: DefaultExportFunction,
		request:  req,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *StorageExport) Name() string {
	return OperationStorageExport
}

// Request returns the request body the export sends.
func (e *StorageExport) Request() StorageExportRequest {
	return e.request
}

func (e *StorageExport) Validate() error {
	if e.invoker == nil {
		return fmt.Errorf("no proxy configured")
	}
	return e.request.Validate()
}

func (e *StorageExport) Run(ctx context.Context) (Result, error) {
	var resp StorageExportResponse
	if err := e.invoker.Invoke(ctx, e.function, e.request, &resp); err != nil {
		return Result{}, err
	}

	if !resp.Success {
		return Result{}, Application(resp.Error, resp)
	}

	return Result{
		Summary: "Synced to " + resp.GCPPath,
		Data: map[string]any{
			"file_name": e.request.FileName,
			"gcp_path":  resp.GCPPath,
		},
	}, nil
}
