package mediakit

import (
	"context"

	"github.com/pkg/errors"
)

// Operation names a Kit entry point.
type Operation string

const (
	OpGetMediaInfo        Operation = "getMediaInfo"
	OpConvertImageToVideo Operation = "convertImageToVideo"
	OpWatermarkVideo      Operation = "watermarkVideo"
	OpMergeVideos         Operation = "mergeVideos"
	OpSplitVideo          Operation = "splitVideo"
)

// ResultError is the failure part of a Result.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of one Kit operation. Failures are reported in
// Error; OK is false then.
type Result struct {
	OK        bool         `json:"ok"`
	Operation Operation    `json:"operation"`
	MediaType MediaType    `json:"mediaType"`
	InputURI  string       `json:"inputUri,omitempty"`
	OutputURI string       `json:"outputUri,omitempty"`
	Segments  []string     `json:"segments,omitempty"`
	Media     *MediaInfo   `json:"media,omitempty"`
	Warnings  []Warning    `json:"warnings,omitempty"`
	Error     *ResultError `json:"error,omitempty"`
}

// fail records err on the result.
func (r *Result) fail(err error) {
	r.OK = false
	r.Error = &ResultError{Code: KindOf(err).Code(), Message: err.Error()}
}

// Err returns the failure as an error, or nil for a successful result.
func (r *Result) Err() error {
	if r.OK || r.Error == nil {
		return nil
	}
	return errors.Errorf("%s: %s", r.Error.Code, r.Error.Message)
}

// Future delivers the Result of an operation running in the background.
type Future struct {
	done   chan struct{}
	result *Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(r *Result) {
	f.result = r
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx ends. Ending ctx does
// not stop the operation.
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
