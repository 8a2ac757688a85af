// Package imagenorm turns an inbound image reference into normalized JPEG
// bytes plus the content hash used for fingerprinting.
package imagenorm

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/fingerprint"
	"canvaspreview/internal/infra"
	"canvaspreview/internal/storage"
)

const (
	defaultMaxDimension = 2048
	defaultMaxBytes     = 20 << 20
	jpegQuality         = 90
)

// Options configures a Normalizer.
type Options struct {
	Objects       storage.ObjectStore
	DefaultBucket string
	AllowedHosts  []string
	HTTPClient    *http.Client
	MaxDimension  int
	MaxBytes      int64
	Logger        *infra.Logger
}

// Result is a normalized source image.
type Result struct {
	Data        []byte
	Width       int
	Height      int
	ContentHash string
}

// Normalizer resolves data URIs, pre-uploaded storage references and
// allowlisted URLs.
type Normalizer struct {
	objects       storage.ObjectStore
	defaultBucket string
	allowed       []string
	httpClient    *http.Client
	maxDimension  int
	maxBytes      int64
	logger        zerolog.Logger
}

func NewNormalizer(opts Options) *Normalizer {
	n := &Normalizer{
		objects:       opts.Objects,
		defaultBucket: opts.DefaultBucket,
		httpClient:    opts.HTTPClient,
		maxDimension:  opts.MaxDimension,
		maxBytes:      opts.MaxBytes,
		logger:        zerolog.Nop(),
	}
	for _, h := range opts.AllowedHosts {
		n.allowed = append(n.allowed, strings.ToLower(strings.TrimSpace(h)))
	}
	if n.httpClient == nil {
		n.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if n.maxDimension <= 0 {
		n.maxDimension = defaultMaxDimension
	}
	if n.maxBytes <= 0 {
		n.maxBytes = defaultMaxBytes
	}
	if n.defaultBucket == "" {
		n.defaultBucket = "uploads"
	}
	if opts.Logger != nil {
		n.logger = infra.NewComponentLogger(*opts.Logger, "imagenorm")
	}
	return n
}

// Normalize loads ref, decodes it and re-encodes it as JPEG no larger than
// the configured dimension. Bad input yields an invalid_request
// classification.
func (n *Normalizer) Normalize(ctx context.Context, ref string) (*Result, error) {
	raw, err := n.load(ctx, strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > n.maxBytes {
		return nil, domain.Invalid(fmt.Sprintf("image exceeds %s", humanize.Bytes(uint64(n.maxBytes))))
	}
	if isHEIC(raw) {
		return nil, domain.Invalid("HEIC images must be converted to JPEG before upload")
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, domain.Invalid("image could not be decoded")
	}
	b := img.Bounds()
	if b.Dx() > n.maxDimension || b.Dy() > n.maxDimension {
		img = imaging.Fit(img, n.maxDimension, n.maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("imagenorm: encode: %w", err)
	}
	out := &Result{
		Data:        buf.Bytes(),
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		ContentHash: fingerprint.ContentHash(buf.Bytes()),
	}
	n.logger.Debug().
		Str("in", humanize.Bytes(uint64(len(raw)))).
		Str("out", humanize.Bytes(uint64(len(out.Data)))).
		Int("width", out.Width).
		Int("height", out.Height).
		Msg("normalized source image")
	return out, nil
}

func (n *Normalizer) load(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case ref == "":
		return nil, domain.Invalid("imageUrl is required")
	case strings.HasPrefix(ref, "data:"):
		return decodeDataURI(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return n.fetch(ctx, ref)
	default:
		bucket, path, ok := n.storageRef(ref)
		if !ok {
			return nil, domain.Invalid("imageUrl must be a data URI, storage reference or allowed URL")
		}
		if n.objects == nil {
			return nil, domain.Invalid("storage references are not supported")
		}
		data, err := n.objects.Get(ctx, bucket, path)
		if err != nil {
			return nil, domain.Invalid("referenced image was not found")
		}
		return data, nil
	}
}

func (n *Normalizer) storageRef(ref string) (string, string, bool) {
	ref = strings.TrimPrefix(ref, "storage://")
	ref = strings.TrimLeft(ref, "/")
	if strings.Contains(ref, "://") {
		return "", "", false
	}
	bucket, path, ok := strings.Cut(ref, "/")
	if !ok || path == "" {
		return n.defaultBucket, ref, ref != ""
	}
	return bucket, path, bucket != ""
}

func (n *Normalizer) fetch(ctx context.Context, raw string) ([]byte, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return nil, domain.Invalid("imageUrl is not a valid URL")
	}
	if !slices.Contains(n.allowed, strings.ToLower(u.Hostname())) {
		return nil, domain.Invalid("imageUrl host is not allowed")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("imagenorm: build request: %w", err)
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, &domain.Classification{Kind: domain.ErrorNetwork, Message: "imagenorm: fetch source: " + err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, domain.Invalid("imageUrl could not be fetched")
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, n.maxBytes+1))
	if err != nil {
		return nil, &domain.Classification{Kind: domain.ErrorNetwork, Message: "imagenorm: read source: " + err.Error()}
	}
	return data, nil
}

func decodeDataURI(ref string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, domain.Invalid("malformed data URI")
	}
	mime := strings.ToLower(strings.SplitN(meta, ";", 2)[0])
	if mime == "image/heic" || mime == "image/heif" {
		return nil, domain.Invalid("HEIC images must be converted to JPEG before upload")
	}
	if mime != "" && !strings.HasPrefix(mime, "image/") {
		return nil, domain.Invalid("data URI is not an image")
	}
	if !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		return nil, domain.Invalid("data URI must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, domain.Invalid("data URI payload is not valid base64")
	}
	return data, nil
}

// isHEIC sniffs the ISO-BMFF brand.
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "hevc", "hevx", "heim", "heis", "mif1", "msf1":
		return true
	}
	return false
}
