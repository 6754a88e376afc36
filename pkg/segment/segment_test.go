package segment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hpbviz/pkg/volio"
	"hpbviz/pkg/volume"
)

func TestBinarize(t *testing.T) {
	m := volume.NewLabelMask(volume.NewGeometry(2, 2, 1, 1, 1, 1))
	m.Data = []uint8{0, 1, 7, 255}
	binarize(m)
	assert.Equal(t, []uint8{0, 1, 1, 1}, m.Data)
}

func TestIsTaskArgumentError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"roi subset rejected", &cmdError{combined: "error: unrecognized arguments: --roi_subset liver"}, true},
		{"invalid task choice", &cmdError{combined: "argument --task: invalid choice: 'total'"}, true},
		{"inference crash", &cmdError{combined: "CUDA out of memory"}, false},
		{"not a cmd error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTaskArgumentError(tt.err))
		})
	}
}

func TestLocalUnavailableWithoutExecutable(t *testing.T) {
	l := &Local{Executable: "totalseg-definitely-not-installed", Log: zerolog.Nop()}
	ct := volume.NewVolume(volume.NewGeometry(2, 2, 2, 1, 1, 1))

	_, err := l.SegmentLiver(context.Background(), ct)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRemoteUnconfigured(t *testing.T) {
	r := &Remote{Log: zerolog.Nop()}
	ct := volume.NewVolume(volume.NewGeometry(2, 2, 2, 1, 1, 1))

	_, err := r.SegmentLiver(context.Background(), ct)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRemoteSegmentLiver(t *testing.T) {
	// Pre-bake the mask the fake server will answer with.
	g := volume.NewGeometry(4, 4, 4, 1, 1, 1)
	served := volume.NewLabelMask(g)
	served.Set(1, 1, 1, 3) // non-binary on purpose, client binarizes
	served.Set(2, 2, 2, 1)
	maskPath := filepath.Join(t.TempDir(), "liver.nii.gz")
	require.NoError(t, volio.SaveLabelMask(maskPath, served))
	payload, err := os.ReadFile(maskPath)
	require.NoError(t, err)

	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotQuery = req.URL.RawQuery
		if _, _, err := req.FormFile("ct"); err != nil {
			http.Error(w, "missing ct upload", http.StatusBadRequest)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	r := &Remote{BaseURL: srv.URL, Fast: true, Log: zerolog.Nop()}
	ct := volume.NewVolume(g)
	mask, err := r.SegmentLiver(context.Background(), ct)
	require.NoError(t, err)

	assert.Equal(t, "/segment/liver", gotPath)
	assert.Equal(t, "fast=true", gotQuery)
	assert.Equal(t, uint8(1), mask.At(1, 1, 1))
	assert.Equal(t, uint8(1), mask.At(2, 2, 2))
	assert.Equal(t, uint8(0), mask.At(0, 0, 0))
}

func TestRemoteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := &Remote{BaseURL: srv.URL, Log: zerolog.Nop()}
	ct := volume.NewVolume(volume.NewGeometry(2, 2, 2, 1, 1, 1))
	_, err := r.SegmentLiver(context.Background(), ct)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
