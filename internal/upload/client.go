package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fundihub/fundichat/internal/config"
	"github.com/fundihub/fundichat/internal/domain"
	"github.com/fundihub/fundichat/internal/metrics"
)

const (
	simulatedTicks  = 10
	maxErrorBody    = 2048
	thumbnailFormat = "c_fill,w_150,h_150"
	mediumFormat    = "c_fill,w_400,h_400"
)

var errNoEndpoint = errors.New("no upload endpoint configured")

// ProgressFunc receives 0..100, never decreasing within one upload.
type ProgressFunc func(percent int)

type Destination struct {
	Folder       string
	Tags         []string
	ResourceType string
}

type Metadata struct {
	OriginalName string
	Size         int64
	MIMEType     string
	Width        int
	Height       int
}

type Result struct {
	Success   bool
	URL       string
	PublicID  string
	Simulated bool
	Metadata  Metadata
	Preview   *domain.Preview
}

type Options struct {
	Endpoint       string
	UploadPreset   string
	Timeout        time.Duration
	ProbeTimeout   time.Duration
	SimulatedDelay time.Duration
	// SpoolDir receives simulated uploads so their file:// URLs resolve.
	// Empty means blob: URLs.
	SpoolDir   string
	HTTPClient *http.Client
	Transcoder ImageTranscoder
	Metrics    *metrics.Metrics
}

func OptionsFromConfig(cfg config.UploadConfig, spoolDir string) Options {
	return Options{
		Endpoint:       cfg.Endpoint,
		UploadPreset:   cfg.UploadPreset,
		Timeout:        time.Duration(cfg.TimeoutMS) * time.Millisecond,
		ProbeTimeout:   time.Duration(cfg.ProbeTimeoutMS) * time.Millisecond,
		SimulatedDelay: time.Duration(cfg.SimulatedDelayMS) * time.Millisecond,
		SpoolDir:       spoolDir,
	}
}

// Client uploads chat attachments to the object store. Network problems
// are absorbed by a simulated upload so the caller can always proceed.
type Client struct {
	logger *slog.Logger
	opts   Options
	http   *http.Client
}

func NewClient(logger *slog.Logger, opts Options) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(config.DefaultUploadTimeoutMS) * time.Millisecond
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = time.Duration(config.DefaultProbeTimeoutMS) * time.Millisecond
	}
	if opts.SimulatedDelay < 0 {
		opts.SimulatedDelay = 0
	}
	if opts.Transcoder == nil {
		opts.Transcoder = NativeTranscoder{}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{logger: logger, opts: opts, http: httpClient}
}

// Validate checks file against the policy of category.
func (c *Client) Validate(file *File, category Category) error {
	return Validate(file, category)
}

func (c *Client) TranscodeImage(ctx context.Context, file *File, opts TranscodeOptions) (*File, error) {
	return c.opts.Transcoder.Transcode(ctx, file, opts)
}

// Upload sends file to the object store. It only fails on a nil file or a
// cancelled context; every other failure ends in a simulated upload.
func (c *Client) Upload(ctx context.Context, file *File, dest Destination, onProgress ProgressFunc) (Result, error) {
	if file == nil || len(file.Data) == 0 {
		return Result{}, &ValidationError{Code: NoFileSelected, Message: "no file selected"}
	}
	started := time.Now()
	progress := newProgress(onProgress)

	res, err := c.uploadRemote(ctx, file, dest, progress)
	if err == nil {
		progress.report(100)
		c.opts.Metrics.UploadFinished(false, file.Size(), time.Since(started).Seconds())
		c.logger.Info("file uploaded", "name", file.Name, "size", file.Size(), "public_id", res.PublicID)

		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	c.logger.Warn("upload failed, using simulated upload", "name", file.Name, "error", err)

	res, err = c.simulate(ctx, file, dest, progress)
	if err != nil {
		return Result{}, err
	}
	c.opts.Metrics.UploadFinished(true, file.Size(), time.Since(started).Seconds())

	return res, nil
}

// UploadChatFile validates, downsizes images and uploads into the
// conversation's folder. Image results carry preview variants.
func (c *Client) UploadChatFile(ctx context.Context, file *File, conversationID, userID string, onProgress ProgressFunc) (Result, error) {
	category := CategoryImage
	if file != nil {
		category = CategoryFor(file.MIMEType)
	}
	if err := Validate(file, category); err != nil {
		return Result{}, err
	}

	original := file
	if category == CategoryImage && file.ContentType() != mimeGIF {
		resized, err := c.opts.Transcoder.Transcode(ctx, file, TranscodeOptions{
			MaxWidth:  ChatImageMaxWidth,
			MaxHeight: ChatImageMaxHeight,
			Quality:   ChatImageQuality,
			Format:    FormatJPEG,
		})
		switch {
		case err == nil:
			file = resized
		case ctx.Err() != nil:
			return Result{}, ctx.Err()
		default:
			c.logger.Warn("image transcode failed, uploading original", "name", file.Name, "error", err)
		}
	}

	res, err := c.Upload(ctx, file, Destination{
		Folder:       "chat/" + conversationID,
		Tags:         []string{"chat", "user_" + userID},
		ResourceType: resourceType(category),
	}, onProgress)
	if err != nil {
		return Result{}, err
	}
	res.Metadata.OriginalName = original.Name
	if category == CategoryImage {
		res.Preview = &domain.Preview{
			Thumbnail: TransformURL(res.URL, thumbnailFormat),
			Medium:    TransformURL(res.URL, mediumFormat),
		}
	}

	return res, nil
}

// TransformURL inserts a transformation segment after "/upload/". URLs
// without that segment are returned unchanged.
func TransformURL(rawURL, transformation string) string {
	const marker = "/upload/"
	idx := strings.Index(rawURL, marker)
	if idx < 0 || transformation == "" {
		return rawURL
	}
	cut := idx + len(marker)

	return rawURL[:cut] + transformation + "/" + rawURL[cut:]
}

type remoteResponse struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	PublicID  string `json:"public_id"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int64  `json:"bytes"`
}

func (c *Client) uploadRemote(ctx context.Context, file *File, dest Destination, progress *progress) (Result, error) {
	endpoint := strings.TrimSpace(c.opts.Endpoint)
	if endpoint == "" {
		return Result{}, errNoEndpoint
	}
	if err := c.probe(ctx, endpoint); err != nil {
		return Result{}, fmt.Errorf("probe: %w", err)
	}

	body, contentType, err := c.multipartBody(file, dest)
	if err != nil {
		return Result{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	total := int64(len(body))
	reader := &countingReader{r: bytes.NewReader(body), total: total, onRead: func(done int64) {
		// Hold the last percent until the response arrives.
		progress.report(int(done * 99 / total))
	}}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, reader)
	if err != nil {
		return Result{}, fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("upload file: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return Result{}, fmt.Errorf("upload file: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode upload response: %w", err)
	}
	hosted := decoded.SecureURL
	if hosted == "" {
		hosted = decoded.URL
	}
	if hosted == "" {
		return Result{}, errors.New("upload response has no url")
	}

	meta := metadataFor(file)
	if decoded.Width > 0 && decoded.Height > 0 {
		meta.Width, meta.Height = decoded.Width, decoded.Height
	}

	return Result{
		Success:  true,
		URL:      hosted,
		PublicID: decoded.PublicID,
		Metadata: meta,
	}, nil
}

// probe checks reachability only; any HTTP response counts.
func (c *Client) probe(ctx context.Context, endpoint string) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()

	return nil
}

func (c *Client) multipartBody(file *File, dest Destination) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"upload_preset", c.opts.UploadPreset},
		{"folder", dest.Folder},
		{"tags", strings.Join(dest.Tags, ",")},
		{"resource_type", dest.ResourceType},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", f[0], err)
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(file.Name))
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}

	return buf.Bytes(), mw.FormDataContentType(), nil
}

func (c *Client) simulate(ctx context.Context, file *File, dest Destination, progress *progress) (Result, error) {
	step := c.opts.SimulatedDelay / simulatedTicks
	for i := 1; i <= simulatedTicks; i++ {
		if step > 0 {
			timer := time.NewTimer(step)
			select {
			case <-ctx.Done():
				timer.Stop()

				return Result{}, ctx.Err()
			case <-timer.C:
			}
		}
		progress.report(i * 100 / simulatedTicks)
	}

	publicID := "local_" + uuid.NewString()
	if dest.Folder != "" {
		publicID = strings.TrimSuffix(dest.Folder, "/") + "/" + publicID
	}

	return Result{
		Success:   true,
		URL:       c.localURL(file, publicID),
		PublicID:  publicID,
		Simulated: true,
		Metadata:  metadataFor(file),
	}, nil
}

// localURL spools file so the URL resolves on this device. A spool failure
// degrades to an opaque blob: URL.
func (c *Client) localURL(file *File, publicID string) string {
	name := filepath.Base(publicID) + filepath.Ext(file.Name)
	if c.opts.SpoolDir != "" {
		path := filepath.Join(c.opts.SpoolDir, name)
		err := os.MkdirAll(c.opts.SpoolDir, 0o700)
		if err == nil {
			err = os.WriteFile(path, file.Data, 0o600)
		}
		if err == nil {
			return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
		}
		c.logger.Warn("spool simulated upload failed", "path", path, "error", err)
	}

	return "blob:fundichat/" + name
}

func metadataFor(file *File) Metadata {
	return Metadata{
		OriginalName: file.Name,
		Size:         file.Size(),
		MIMEType:     file.ContentType(),
		Width:        file.Width,
		Height:       file.Height,
	}
}

func resourceType(category Category) string {
	switch category {
	case CategoryImage:
		return "image"
	case CategoryAudio:
		return "video"
	default:
		return "raw"
	}
}

type progress struct {
	mu   sync.Mutex
	last int
	fn   ProgressFunc
}

func newProgress(fn ProgressFunc) *progress {
	return &progress{last: -1, fn: fn}
}

func (p *progress) report(percent int) {
	if p.fn == nil {
		return
	}
	percent = min(max(percent, 0), 100)

	p.mu.Lock()
	defer p.mu.Unlock()
	if percent <= p.last {
		return
	}
	p.last = percent
	p.fn(percent)
}

type countingReader struct {
	r      io.Reader
	total  int64
	read   int64
	onRead func(done int64)
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.read += int64(n)
		if r.total > 0 {
			r.onRead(r.read)
		}
	}

	return n, err
}
