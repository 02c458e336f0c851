package assistant

import (
	"context"
	"encoding/json"
	"strings"
)

// TaskDeviceControl is the task value the server uses for peripheral commands.
const TaskDeviceControl = "bt-control"

// ResultKind tags the three top-level shapes a query can resolve to.
type ResultKind string

const (
	ResultStreaming  ResultKind = "streaming"
	ResultStructured ResultKind = "structured"
	ResultError      ResultKind = "error"
)

// Result is the outcome of one assistant query. Exactly one of Events,
// Response, or ErrMessage is meaningful, selected by Kind. A streaming
// result's Events channel is closed by the client when the server stream
// ends; Cancel releases the subscription early.
type Result struct {
	Kind       ResultKind
	Events     <-chan ServerEvent
	Cancel     context.CancelFunc
	Response   *Response
	ErrMessage string
}

// Querier issues assistant queries. Implemented by Client and by test fakes.
type Querier interface {
	Query(ctx context.Context, text, model string) (Result, error)
}

// Response is the structured (device-control) payload. The server emits
// kebab-case keys; newer builds use camelCase, so both are tolerated.
type Response struct {
	Task             string         `json:"task"`
	UserData         string         `json:"user-data"`
	ProcessingDevice string         `json:"processing-device"`
	SourceDevice     string         `json:"source-device"`
	TargetDevice     string         `json:"target-device"`
	ParentDevice     string         `json:"parent-device"`
	OutputFormat     string         `json:"output-format,omitempty"`
	Output           Output         `json:"output"`
	Error            *ResponseError `json:"error,omitempty"`
}

type Output struct {
	GeneratedOutput string `json:"generated_output"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HasError reports whether the server attached an error to the response.
// Callers must check this before acting on Output.
func (r *Response) HasError() bool {
	return r != nil && r.Error != nil && strings.TrimSpace(r.Error.Message) != ""
}

// Command returns the literal control command for the target device.
func (r *Response) Command() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Output.GeneratedOutput)
}

// IsDeviceControl reports whether this response should be dispatched to a
// peripheral rather than spoken.
func (r *Response) IsDeviceControl() bool {
	return r != nil && strings.EqualFold(strings.TrimSpace(r.Task), TaskDeviceControl)
}

// UnmarshalJSON tolerates both key spellings for the response fields.
func (r *Response) UnmarshalJSON(data []byte) error {
	type wire struct {
		Task             string         `json:"task"`
		UserData         string         `json:"user-data"`
		UserDataCamel    string         `json:"userData"`
		ProcessingDevice string         `json:"processing-device"`
		SourceDevice     string         `json:"source-device"`
		SourceCamel      string         `json:"sourceDevice"`
		TargetDevice     string         `json:"target-device"`
		TargetCamel      string         `json:"targetDevice"`
		ParentDevice     string         `json:"parent-device"`
		ParentCamel      string         `json:"parentDevice"`
		OutputFormat     string         `json:"output-format"`
		FormatCamel      string         `json:"outputFormat"`
		Output           outputWire     `json:"output"`
		Error            *ResponseError `json:"error"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Task = w.Task
	r.UserData = firstNonEmpty(w.UserData, w.UserDataCamel)
	r.ProcessingDevice = w.ProcessingDevice
	r.SourceDevice = firstNonEmpty(w.SourceDevice, w.SourceCamel)
	r.TargetDevice = firstNonEmpty(w.TargetDevice, w.TargetCamel)
	r.ParentDevice = firstNonEmpty(w.ParentDevice, w.ParentCamel)
	r.OutputFormat = firstNonEmpty(w.OutputFormat, w.FormatCamel)
	r.Output = Output{GeneratedOutput: firstNonEmpty(w.Output.GeneratedOutput, w.Output.GeneratedCamel)}
	r.Error = w.Error
	return nil
}

type outputWire struct {
	GeneratedOutput string `json:"generated_output"`
	GeneratedCamel  string `json:"generatedOutput"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
