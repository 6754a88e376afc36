package segment

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"hpbviz/pkg/volio"
	"hpbviz/pkg/volume"
)

// Local runs the TotalSegmentator CLI found on PATH. Inference is slow
// and CPU/GPU heavy; the pipeline only reaches for it when no liver
// mask was provided.
type Local struct {
	// Executable overrides the binary name, mainly for tests.
	Executable string
	Log        zerolog.Logger
}

func (l *Local) executable() string {
	if l.Executable != "" {
		return l.Executable
	}
	return "TotalSegmentator"
}

// SegmentLiver stages the CT to a temp directory, runs TotalSegmentator
// restricted to the liver ROI and loads the resulting mask. Older CLI
// versions reject --roi_subset; those get a second attempt with the
// organ task, which also emits liver.nii.gz.
func (l *Local) SegmentLiver(ctx context.Context, ct *volume.Volume) (*volume.LabelMask, error) {
	exe, err := exec.LookPath(l.executable())
	if err != nil {
		return nil, fmt.Errorf("%s not found on PATH: %w", l.executable(), ErrUnavailable)
	}

	td, err := os.MkdirTemp("", "hpbviz-totalseg-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(td)

	src := filepath.Join(td, "ct.nii.gz")
	outDir := filepath.Join(td, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	if err := volio.SaveVolume(src, ct); err != nil {
		return nil, fmt.Errorf("staging CT for segmentation: %w", err)
	}

	preferred := []string{"-i", src, "-o", outDir, "--task", "total", "--roi_subset", "liver"}
	if runErr := l.run(ctx, exe, preferred); runErr != nil {
		if !isTaskArgumentError(runErr) {
			return nil, runErr
		}
		l.Log.Warn().Msg("TotalSegmentator rejected --roi_subset, retrying with organ task")
		fallback := []string{"-i", src, "-o", outDir, "--task", "organ"}
		if runErr := l.run(ctx, exe, fallback); runErr != nil {
			return nil, runErr
		}
	}

	liverPath := filepath.Join(outDir, "liver.nii.gz")
	if _, err := os.Stat(liverPath); err != nil {
		return nil, fmt.Errorf("TotalSegmentator output missing liver.nii.gz")
	}
	mask, err := volio.LoadLabelMask(liverPath)
	if err != nil {
		return nil, fmt.Errorf("reading TotalSegmentator output: %w", err)
	}
	return binarize(mask), nil
}

// cmdError keeps the captured output so the caller can decide whether
// the failure was a flag-compatibility problem.
type cmdError struct {
	cmd      string
	exitErr  error
	combined string
}

func (e *cmdError) Error() string {
	msg := fmt.Sprintf("TotalSegmentator failed\ncommand: %s\n%v", e.cmd, e.exitErr)
	if out := strings.TrimSpace(e.combined); out != "" {
		msg += "\noutput:\n" + out
	}
	return msg
}

func (e *cmdError) Unwrap() error { return e.exitErr }

func (l *Local) run(ctx context.Context, exe string, args []string) error {
	l.Log.Info().Str("exe", exe).Strs("args", args).Msg("running segmentation")
	cmd := exec.CommandContext(ctx, exe, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return &cmdError{cmd: exe + " " + strings.Join(args, " "), exitErr: err, combined: buf.String()}
	}
	return nil
}

// isTaskArgumentError sniffs the CLI output for signs that the flag set
// itself was the problem rather than the inference.
func isTaskArgumentError(err error) bool {
	ce, ok := err.(*cmdError)
	if !ok {
		return false
	}
	msg := strings.ToLower(ce.combined)
	for _, token := range []string{"invalid choice", "unrecognized arguments", "--task", "roi_subset"} {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
