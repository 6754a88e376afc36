package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Case binds a case name to the files discovered for it. Only
// InputPath is mandatory.
type Case struct {
	Name                string
	InputPath           string
	LiverMaskPath       string
	VesselTumorMaskPath string
	ManualMaskPath      string
}

// stripCaseName removes NIfTI extensions and DICOM-staging suffixes
// from a filename to get the case identity.
func stripCaseName(name string) string {
	name = strings.TrimSuffix(name, ".nii.gz")
	name = strings.TrimSuffix(name, ".nii")
	name = strings.TrimSuffix(name, "_dicoms")
	name = strings.TrimSuffix(name, "_dicom")
	return name
}

// isMaskFilename matches the naming conventions masks arrive with.
func isMaskFilename(name string) bool {
	lowered := strings.ToLower(name)
	for _, token := range []string{"mask", "label", "seg", "manual"} {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

func isNifti(name string) bool {
	return strings.HasSuffix(name, ".nii") || strings.HasSuffix(name, ".nii.gz")
}

// maskKind classifies an output-root file by filename. Vessel/tumor
// tokens are checked before "liver" so names like case1_liver_tumors
// land on the multi-label mask, not the liver.
func maskKind(name string) string {
	lowered := strings.ToLower(name)
	switch {
	case strings.Contains(lowered, "task008"),
		strings.Contains(lowered, "hepatic"),
		strings.Contains(lowered, "tumor"),
		strings.Contains(lowered, "vessel"):
		return "vesseltumor"
	case strings.Contains(lowered, "liver"):
		return "liver"
	case strings.Contains(lowered, "input_mask"),
		strings.Contains(lowered, "manual"):
		return "manual"
	default:
		return ""
	}
}

// DiscoverCases scans rawRoot for inputs (DICOM directories or NIfTI
// files) and outputRoot for per-case masks matched by filename. Cases
// without an input are dropped; the list is sorted by name.
func DiscoverCases(rawRoot, outputRoot string) ([]Case, error) {
	entries, err := os.ReadDir(rawRoot)
	if err != nil {
		return nil, fmt.Errorf("scanning raw root: %w", err)
	}

	byName := map[string]*Case{}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(rawRoot, entry.Name())
		if entry.IsDir() {
			c := caseFromDir(path, entry.Name())
			if c != nil {
				byName[c.Name] = c
			}
			continue
		}
		if isNifti(entry.Name()) && !isMaskFilename(entry.Name()) {
			name := stripCaseName(entry.Name())
			byName[name] = &Case{Name: name, InputPath: path}
		}
	}

	attachMasks(byName, outputRoot)

	out := make([]Case, 0, len(byName))
	for _, c := range byName {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// caseFromDir treats a directory as either a NIfTI case folder (when it
// holds .nii files) or a DICOM series folder.
func caseFromDir(dir, name string) *Case {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var niftis []string
	for _, e := range entries {
		if !e.IsDir() && isNifti(e.Name()) {
			niftis = append(niftis, e.Name())
		}
	}
	sort.Strings(niftis)

	if len(niftis) == 0 {
		// DICOM folder: the directory itself is the input.
		return &Case{Name: stripCaseName(name), InputPath: dir}
	}

	c := &Case{Name: stripCaseName(name)}
	for _, f := range niftis {
		if !isMaskFilename(f) && c.InputPath == "" {
			c.InputPath = filepath.Join(dir, f)
		}
	}
	if c.InputPath == "" {
		// Only masks here; fall back to the first file as input.
		c.InputPath = filepath.Join(dir, niftis[0])
	}
	for _, f := range niftis {
		full := filepath.Join(dir, f)
		if full == c.InputPath || !isMaskFilename(f) {
			continue
		}
		if c.ManualMaskPath == "" {
			c.ManualMaskPath = full
		}
	}
	return c
}

// attachMasks fills mask paths from the output root, checking both a
// per-case subdirectory and flat files containing the case name.
func attachMasks(byName map[string]*Case, outputRoot string) {
	if outputRoot == "" {
		return
	}
	for name, c := range byName {
		dirs := []string{filepath.Join(outputRoot, name), outputRoot}
		for _, dir := range dirs {
			entries, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if e.IsDir() || !isNifti(e.Name()) {
					continue
				}
				if dir == outputRoot && !strings.Contains(e.Name(), name) {
					continue
				}
				full := filepath.Join(dir, e.Name())
				switch maskKind(e.Name()) {
				case "liver":
					if c.LiverMaskPath == "" {
						c.LiverMaskPath = full
					}
				case "vesseltumor":
					if c.VesselTumorMaskPath == "" {
						c.VesselTumorMaskPath = full
					}
				case "manual":
					if c.ManualMaskPath == "" {
						c.ManualMaskPath = full
					}
				}
			}
		}
	}
}

// Session memoizes pipeline runs per case for one viewing session.
// Results are kept until the session goes away; a viewer flips between
// cases and re-running the pipeline each time would dominate the UI.
// Not safe for concurrent use.
type Session struct {
	pipe     *Pipeline
	defaults Params
	cases    map[string]Case
	order    []string
	results  map[string]*Result
}

// NewSession catalogs the cases and remembers the default params
// applied to each run.
func NewSession(pipe *Pipeline, cases []Case, defaults Params) *Session {
	s := &Session{
		pipe:     pipe,
		defaults: defaults,
		cases:    make(map[string]Case, len(cases)),
		results:  make(map[string]*Result, len(cases)),
	}
	for _, c := range cases {
		if _, dup := s.cases[c.Name]; dup {
			continue
		}
		s.cases[c.Name] = c
		s.order = append(s.order, c.Name)
	}
	return s
}

// Cases returns the catalog in discovery order.
func (s *Session) Cases() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Load runs the pipeline for a case, or returns the memoized result.
func (s *Session) Load(ctx context.Context, name string) (*Result, error) {
	if res, ok := s.results[name]; ok {
		return res, nil
	}
	c, ok := s.cases[name]
	if !ok {
		return nil, fmt.Errorf("unknown case %q", name)
	}

	params := s.defaults
	params.InputPath = c.InputPath
	params.LiverMaskPath = c.LiverMaskPath
	params.VesselTumorMaskPath = c.VesselTumorMaskPath
	params.ManualMaskPath = c.ManualMaskPath

	res, err := s.pipe.Run(ctx, params)
	if err != nil {
		return nil, err
	}
	s.results[name] = res
	return res, nil
}
