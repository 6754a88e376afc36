// Package segment produces liver and lesion masks from CT volumes by
// delegating to a segmentation backend: a locally installed
// TotalSegmentator CLI, or a remote inference server.
package segment

import (
	"context"
	"errors"

	"hpbviz/pkg/volume"
)

// ErrUnavailable means no segmentation backend can run: the CLI is not
// on PATH, or the remote server is not reachable. Callers that have a
// manual mask should fall back to it.
var ErrUnavailable = errors.New("segmentation backend unavailable")

// Segmenter turns a CT volume into a binary liver mask (0 background,
// 1 liver) on the CT's own grid.
type Segmenter interface {
	SegmentLiver(ctx context.Context, ct *volume.Volume) (*volume.LabelMask, error)
}

// binarize collapses any positive label to 1 in place.
func binarize(m *volume.LabelMask) *volume.LabelMask {
	for i, v := range m.Data {
		if v > 0 {
			m.Data[i] = 1
		}
	}
	return m
}
