package network

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	beginUploadPath = "/UploadFile/BeginFileUpload"
	uploadChunkPath = "/UploadFile/UploadChunk"
	endUploadPath   = "/UploadFile/EndFileUpload"
	uploadFilePath  = "/UploadFile"

	wholeFileFormField = "file"
)

type mediaChunk struct {
	FileHandle string `json:"FileHandle"`
	Data       string `json:"Data"`
	StartAt    string `json:"StartAt"`
}

// APIClient talks to the file upload API. It implements chunkuploader.Transport.
type APIClient struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// NewHTTPClient creates the HTTP client used by APIClient.
// Requests are sent exactly once: a failed request is reported to the caller, never repeated.
func NewHTTPClient(logger log.Logger) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.RetryMax = 0
	client.CheckRetry = createCustomRetryFunction(logger)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// NewAPIClient ...
func NewAPIClient(client *retryablehttp.Client, baseURL string, accessToken string, logger log.Logger) *APIClient {
	return &APIClient{
		httpClient:  client,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: accessToken,
		logger:      logger,
	}
}

// Begin asks the API for a new upload handle.
func (c *APIClient) Begin(ctx context.Context, fileName string) (string, error) {
	query := url.Values{}
	query.Set("fileName", fileName)
	apiURL := fmt.Sprintf("%s%s?%s", c.baseURL, beginUploadPath, query.Encode())

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", unwrapError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	handle, err := parseHandle(body)
	if err != nil {
		return "", err
	}
	return handle, nil
}

// SendChunk posts one chunk of the upload. The chunk data is sent base64 encoded.
func (c *APIClient) SendChunk(ctx context.Context, handle string, data []byte, offset int64) error {
	body, err := json.Marshal(mediaChunk{
		FileHandle: handle,
		Data:       base64.StdEncoding.EncodeToString(data),
		StartAt:    strconv.FormatInt(offset, 10),
	})
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadChunkPath, body)
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Chunk request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	dump, err = httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("Chunk response dump: %s", string(dump))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}
	return nil
}

// End finishes or abandons the upload identified by handle.
func (c *APIClient) End(ctx context.Context, handle string, totalSize int64, cancelled bool) (bool, error) {
	query := url.Values{}
	query.Set("fileHandle", handle)
	query.Set("quitUpload", strconv.FormatBool(cancelled))
	query.Set("fileSize", strconv.FormatInt(totalSize, 10))
	apiURL := fmt.Sprintf("%s%s?%s", c.baseURL, endUploadPath, query.Encode())

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return false, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer c.closeBody(resp.Body)

	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("End upload response dump: %s", string(dump))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, unwrapError(resp)
	}

	return readAcknowledgement(resp.Body)
}

// UploadWhole posts the complete file as a multipart form in one request.
// Large files may be rejected by the server (HTTP 413) or time out.
func (c *APIClient) UploadWhole(ctx context.Context, fileName string, data []byte) (bool, error) {
	var form bytes.Buffer
	writer := multipart.NewWriter(&form)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, wholeFileFormField, escapeQuotes(fileName)))
	header.Set("Content-Type", mimetype.Detect(data).String())
	part, err := writer.CreatePart(header)
	if err != nil {
		return false, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return false, fmt.Errorf("write form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return false, fmt.Errorf("close form: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadFilePath, form.Bytes())
	if err != nil {
		return false, err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Upload request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, unwrapError(resp)
	}

	return readAcknowledgement(resp.Body)
}

func (c *APIClient) authorize(req *retryablehttp.Request) {
	if c.accessToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	}
}

func (c *APIClient) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}

func createCustomRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, requestErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, requestErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; requestErr=%+v", retry, err, requestErr)
		return retry, err
	}
}

// parseHandle accepts the handle either as plain text or as a JSON string.
func parseHandle(body []byte) (string, error) {
	raw := strings.TrimSpace(string(body))
	handle := raw
	if strings.HasPrefix(raw, `"`) {
		if err := json.Unmarshal([]byte(raw), &handle); err != nil {
			return "", fmt.Errorf("invalid upload handle %s: %w", raw, err)
		}
	}
	if handle == "" {
		return "", fmt.Errorf("empty upload handle in response")
	}
	return handle, nil
}

// readAcknowledgement parses a true / false response body. An empty body counts as true.
func readAcknowledgement(body io.Reader) (bool, error) {
	content, err := io.ReadAll(body)
	if err != nil {
		return false, fmt.Errorf("read response: %w", err)
	}

	raw := strings.Trim(strings.TrimSpace(string(content)), `"`)
	if raw == "" {
		return true, nil
	}

	ack, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("unexpected acknowledgement: %s", raw)
	}
	return ack, nil
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
