// Package prediction models the prediction service's response and the client
// used to request it.
//
// Coordinate convention: bounding boxes are pixel coordinates in the 512x512
// normalized canvas (see package canvas). They are passed through as-is; no
// rescaling against the uploaded image's native size is performed.
package prediction

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/menta2k/scan-viewer/pkg/annotate"
)

var (
	// ErrPrediction is matched by every *Error returned by the service
	ErrPrediction = errors.New("prediction failed")
	// ErrMalformedResult means the payload was neither an analysis nor an error
	ErrMalformedResult = errors.New("malformed prediction result")
)

// Kind tags which half of the Result union is populated
type Kind int

const (
	KindAnalysis Kind = iota + 1
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindAnalysis:
		return "analysis"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Error is the service's {"error": "..."} shape
type Error struct {
	Message string `json:"error"`
}

func (e *Error) Error() string { return "prediction service: " + e.Message }

func (e *Error) Is(target error) bool { return target == ErrPrediction }

// Analysis is the successful chest X-ray response
type Analysis struct {
	Regions   []annotate.Region `json:"-"`
	Summary   string            `json:"summary"`
	Pneumonia string            `json:"pneumonia"`
	Height    int               `json:"height"`
	Width     int               `json:"width"`
}

// Finding returns the label shown for the pneumonia classification, or ""
// when the service did not classify.
func (a *Analysis) Finding() string {
	switch a.Pneumonia {
	case "":
		return ""
	case "Pneumonia":
		return "Pneumonia detected"
	default:
		return "Pneumonia not detected"
	}
}

// Result is a two-case tagged union. Exactly one of Analysis and Err is set,
// according to Kind.
type Result struct {
	Kind     Kind
	Analysis *Analysis
	Err      *Error
}

// AnalysisResult wraps a successful analysis
func AnalysisResult(a *Analysis) Result { return Result{Kind: KindAnalysis, Analysis: a} }

// ErrorResult wraps a service error
func ErrorResult(msg string) Result { return Result{Kind: KindError, Err: &Error{Message: msg}} }

// Parse decodes a service payload, discriminating on the "error" key before
// touching any analysis fields. Payloads carrying both shapes or neither are
// rejected with ErrMalformedResult.
func Parse(data []byte) (Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}

	rawErr, hasErr := fields["error"]
	_, hasBoxes := fields["bounding_boxes"]
	_, hasSummary := fields["summary"]
	hasAnalysis := hasBoxes || hasSummary

	switch {
	case hasErr && hasAnalysis:
		return Result{}, fmt.Errorf("%w: both error and analysis present", ErrMalformedResult)
	case hasErr:
		var msg string
		if err := json.Unmarshal(rawErr, &msg); err != nil {
			return Result{}, fmt.Errorf("%w: error field is not a string", ErrMalformedResult)
		}
		return ErrorResult(msg), nil
	case hasAnalysis:
		a, err := parseAnalysis(data)
		if err != nil {
			return Result{}, err
		}
		return AnalysisResult(a), nil
	default:
		return Result{}, fmt.Errorf("%w: neither error nor analysis present", ErrMalformedResult)
	}
}

type wireAnalysis struct {
	Analysis
	Boxes []json.RawMessage `json:"bounding_boxes"`
}

func parseAnalysis(data []byte) (*Analysis, error) {
	var w wireAnalysis
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	a := w.Analysis
	a.Regions = make([]annotate.Region, 0, len(w.Boxes))
	for _, raw := range w.Boxes {
		a.Regions = append(a.Regions, parseBox(raw))
	}
	return &a, nil
}

// parseBox accepts [[x1,y1,x2,y2], "description"] and
// {"bounds": [...], "description": "..."}. Anything it can't read becomes a
// region with no bounds, which the renderer rejects on its own.
func parseBox(raw json.RawMessage) annotate.Region {
	var r annotate.Region
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err == nil {
		if len(pair) > 0 {
			r.Bounds = parseBounds(pair[0])
		}
		if len(pair) > 1 {
			_ = json.Unmarshal(pair[1], &r.Description)
		}
		return r
	}

	var obj struct {
		Bounds      json.RawMessage `json:"bounds"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return r
	}
	r.Bounds = parseBounds(obj.Bounds)
	r.Description = obj.Description
	return r
}

// parseBounds returns nil unless every coordinate is a JSON number. A null
// or string entry would otherwise decode as 0 and pass validation.
func parseBounds(raw json.RawMessage) []float64 {
	var coords []*float64
	if err := json.Unmarshal(raw, &coords); err != nil {
		return nil
	}
	bounds := make([]float64, 0, len(coords))
	for _, c := range coords {
		if c == nil {
			return nil
		}
		bounds = append(bounds, *c)
	}
	return bounds
}

// MarshalJSON writes the wire shape back out, used by the CLI and tests.
func (r Result) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindError:
		return json.Marshal(r.Err)
	case KindAnalysis:
		boxes := make([][2]any, len(r.Analysis.Regions))
		for i, reg := range r.Analysis.Regions {
			boxes[i] = [2]any{reg.Bounds, reg.Description}
		}
		return json.Marshal(struct {
			*Analysis
			Boxes [][2]any `json:"bounding_boxes"`
		}{r.Analysis, boxes})
	default:
		return nil, ErrMalformedResult
	}
}
