package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/mdobak/go-xerrors"
)

const (
	chestXrayPath = "/chest_xray_analysis/"
	brainScanPath = "/predict_brain_tumor/"
)

// BrainPrediction is the brain MRI classifier's answer
type BrainPrediction struct {
	Prediction string `json:"prediction"`
}

// Client uploads scans to the prediction service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the service at serverURL
func NewClient(serverURL string, timeout time.Duration) (*Client, error) {
	if serverURL == "" {
		serverURL = "http://localhost:8000"
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", serverURL)
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// AnalyzeChestXray uploads a chest X-ray and returns the tagged result. A
// service-side {"error"} payload comes back as a KindError result with a nil
// error; transport and decoding problems are returned as errors.
func (c *Client) AnalyzeChestXray(ctx context.Context, filename string, r io.Reader) (Result, error) {
	status, body, err := c.upload(ctx, chestXrayPath, filename, r)
	if err != nil {
		return Result{}, err
	}

	res, perr := Parse(body)
	if status < 200 || status > 299 {
		if perr == nil && res.Kind == KindError {
			return res, nil
		}
		return Result{}, xerrors.New(fmt.Sprintf("prediction service returned status %d", status), errorBody(body))
	}
	if perr != nil {
		return Result{}, xerrors.New("failed to parse prediction", perr)
	}
	return res, nil
}

// AnalyzeBrainScan uploads a brain MRI and returns the classifier label
func (c *Client) AnalyzeBrainScan(ctx context.Context, filename string, r io.Reader) (BrainPrediction, error) {
	status, body, err := c.upload(ctx, brainScanPath, filename, r)
	if err != nil {
		return BrainPrediction{}, err
	}

	var payload struct {
		BrainPrediction
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		if status < 200 || status > 299 {
			return BrainPrediction{}, xerrors.New(fmt.Sprintf("prediction service returned status %d", status), errorBody(body))
		}
		return BrainPrediction{}, xerrors.New("failed to parse prediction", err)
	}
	if payload.Error != nil {
		return BrainPrediction{}, &Error{Message: *payload.Error}
	}
	if status < 200 || status > 299 {
		return BrainPrediction{}, xerrors.New(fmt.Sprintf("prediction service returned status %d", status), errorBody(body))
	}
	return payload.BrainPrediction, nil
}

func (c *Client) upload(ctx context.Context, path, filename string, r io.Reader) (int, []byte, error) {
	if filename == "" {
		filename = "scan"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return 0, nil, xerrors.New("failed to create form file", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return 0, nil, xerrors.New("failed to read upload", err)
	}
	if err := mw.Close(); err != nil {
		return 0, nil, xerrors.New("failed to finish multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return 0, nil, xerrors.New("failed to create request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, xerrors.New("failed to upload scan", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, xerrors.New("failed to read response", err)
	}
	return resp.StatusCode, body, nil
}

func errorBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
