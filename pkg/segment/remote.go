package segment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"hpbviz/pkg/volio"
	"hpbviz/pkg/volume"
)

// Remote delegates segmentation to an inference server. The server
// accepts a gzipped NIfTI upload in the "ct" form field and answers
// with a gzipped NIfTI mask.
type Remote struct {
	// BaseURL of the server, without trailing slash.
	BaseURL string

	// Fast asks the server for its quick (lower quality) model.
	Fast bool

	Client *http.Client
	Log    zerolog.Logger
}

const (
	liverEndpoint  = "/segment/liver"
	lesionEndpoint = "/segment/task008"
)

// remote inference can take many minutes on a cold server
const defaultRemoteTimeout = 15 * time.Minute

func (r *Remote) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: defaultRemoteTimeout}
}

// SegmentLiver uploads the CT and returns the server's liver mask,
// binarized onto the CT's grid geometry as sent.
func (r *Remote) SegmentLiver(ctx context.Context, ct *volume.Volume) (*volume.LabelMask, error) {
	mask, err := r.segment(ctx, liverEndpoint, ct)
	if err != nil {
		return nil, err
	}
	return binarize(mask), nil
}

// SegmentLesions uploads the CT to the hepatic vessel/tumor model. The
// returned mask keeps its multi-label values (1 vessels, 2 tumors).
func (r *Remote) SegmentLesions(ctx context.Context, ct *volume.Volume) (*volume.LabelMask, error) {
	return r.segment(ctx, lesionEndpoint, ct)
}

func (r *Remote) segment(ctx context.Context, endpoint string, ct *volume.Volume) (*volume.LabelMask, error) {
	if r.BaseURL == "" {
		return nil, fmt.Errorf("no segmentation server configured: %w", ErrUnavailable)
	}

	td, err := os.MkdirTemp("", "hpbviz-remote-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(td)

	src := filepath.Join(td, "ct.nii.gz")
	if err := volio.SaveVolume(src, ct); err != nil {
		return nil, fmt.Errorf("staging CT for upload: %w", err)
	}

	body, err := r.post(ctx, endpoint, src)
	if err != nil {
		return nil, err
	}

	maskPath := filepath.Join(td, "mask.nii.gz")
	if err := os.WriteFile(maskPath, body, 0o644); err != nil {
		return nil, err
	}
	mask, err := volio.LoadLabelMask(maskPath)
	if err != nil {
		return nil, fmt.Errorf("reading server response: %w", err)
	}
	return mask, nil
}

func (r *Remote) post(ctx context.Context, endpoint, path string) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("ct", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		f.Close()
		return nil, err
	}
	f.Close()
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := strings.TrimRight(r.BaseURL, "/") + endpoint
	if r.Fast {
		url += "?fast=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	r.Log.Info().Str("url", url).Msg("uploading CT for segmentation")
	resp, err := r.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("segmentation server unreachable: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("segmentation request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return io.ReadAll(resp.Body)
}
