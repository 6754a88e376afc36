package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"hpbviz/pkg/config"
	"hpbviz/pkg/pipeline"
	"hpbviz/pkg/segment"
	"hpbviz/pkg/visualization"
	"hpbviz/pkg/volio"
	"hpbviz/pkg/volume"
)

func main() {
	seriesUID := flag.String("series", "", "DICOM SeriesInstanceUID to load (default: largest series)")
	liverMask := flag.String("liver-mask", "", "Liver mask NIfTI (skips automatic segmentation)")
	vesselMask := flag.String("vessel-mask", "", "Vessel/tumor multi-label mask NIfTI")
	manualMask := flag.String("manual-mask", "", "User-provided mask NIfTI, one surface per label")
	saveMask := flag.String("save-mask", "", "Write the resolved liver mask to this NIfTI path")
	export := flag.String("export", "", "Write the liver surface to this OBJ path")
	rawRoot := flag.String("raw-root", "", "Root directory of source cases (overrides config)")
	outputRoot := flag.String("output-root", "", "Root directory of per-case masks (overrides config)")
	listSeries := flag.Bool("list-series", false, "List DICOM series in the input directory and exit")
	listCases := flag.Bool("list-cases", false, "List discovered cases and exit")
	slicesDir := flag.String("slices-dir", "", "Export axial slice previews to this directory")
	configPath := flag.String("config", "hpbviz.yaml", "Configuration file")
	remote := flag.String("remote", "", "Base URL of the remote segmentation server (overrides config)")
	allowLocalSeg := flag.Bool("allow-local-seg", false, "Permit running a local TotalSegmentator CLI")
	verbose := flag.Bool("verbose", false, "Verbose logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}
	if *verbose || cfg.Output.Verbose {
		log = log.Level(zerolog.DebugLevel)
	}
	if *rawRoot != "" {
		cfg.Paths.RawRoot = *rawRoot
	}
	if *outputRoot != "" {
		cfg.Paths.OutputRoot = *outputRoot
	}
	if *remote != "" {
		cfg.Segmentation.Server = *remote
	}
	if *allowLocalSeg {
		cfg.Segmentation.AllowLocal = true
	}

	input := flag.Arg(0)

	if *listSeries {
		if input == "" {
			log.Fatal().Msg("-list-series needs a DICOM directory argument")
		}
		series, err := volio.ListSeries(input)
		if err != nil {
			log.Fatal().Err(err).Msg("listing series")
		}
		for _, s := range series {
			fmt.Println(s)
		}
		return
	}

	cases, err := pipeline.DiscoverCases(cfg.Paths.RawRoot, cfg.Paths.OutputRoot)
	if err != nil {
		cases = nil
		log.Debug().Err(err).Msg("case discovery skipped")
	}

	if *listCases {
		if len(cases) == 0 {
			fmt.Println("no cases found under", cfg.Paths.RawRoot)
			return
		}
		for _, c := range cases {
			masks := ""
			if c.LiverMaskPath != "" {
				masks += " liver"
			}
			if c.VesselTumorMaskPath != "" {
				masks += " vessel/tumor"
			}
			if c.ManualMaskPath != "" {
				masks += " manual"
			}
			if masks == "" {
				masks = " (no masks)"
			}
			fmt.Printf("%-24s %s%s\n", c.Name, c.InputPath, masks)
		}
		return
	}

	params := pipeline.Params{
		SeriesUID:           *seriesUID,
		LiverMaskPath:       *liverMask,
		VesselTumorMaskPath: *vesselMask,
		ManualMaskPath:      *manualMask,
		SaveMaskPath:        *saveMask,
		ExportPath:          *export,
		LiverColor:          cfg.Surfaces.Liver,
		VesselTumorLabels:   cfg.Surfaces.VesselTumor,
		TumorLabel:          cfg.Metrics.TumorLabel,
		Connectivity:        cfg.Metrics.Connectivity,
	}

	if input != "" {
		params.InputPath = input
	} else if len(cases) > 0 {
		// No input given: run the first discovered case.
		c := cases[0]
		log.Info().Str("case", c.Name).Msg("no input given, using first discovered case")
		params.InputPath = c.InputPath
		if params.LiverMaskPath == "" {
			params.LiverMaskPath = c.LiverMaskPath
		}
		if params.VesselTumorMaskPath == "" {
			params.VesselTumorMaskPath = c.VesselTumorMaskPath
		}
		if params.ManualMaskPath == "" {
			params.ManualMaskPath = c.ManualMaskPath
		}
	} else {
		flag.Usage()
		os.Exit(1)
	}

	p := &pipeline.Pipeline{
		Loader:    pipeline.FileLoader{},
		Segmenter: chooseSegmenter(cfg, log),
		Log:       log,
	}

	start := time.Now()
	res, err := p.Run(context.Background(), params)
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("pipeline finished")

	printInventory(res)

	if *slicesDir != "" {
		viewer := visualization.NewViewer(res.Volume, cfg.Window.Center, cfg.Window.Width)
		if res.LiverMask != nil {
			if err := viewer.SetOverlay(res.LiverMask); err != nil {
				log.Warn().Err(err).Msg("overlay skipped")
			}
		}
		if err := viewer.SaveSliceSequence(visualization.Axial, *slicesDir); err != nil {
			log.Fatal().Err(err).Msg("exporting slice previews")
		}
		log.Info().Str("dir", *slicesDir).Msg("exported axial previews")
	}
}

// chooseSegmenter picks the configured backend: remote wins over local,
// nil means only provided masks work.
func chooseSegmenter(cfg *config.Config, log zerolog.Logger) segment.Segmenter {
	if cfg.Segmentation.Server != "" {
		return &segment.Remote{BaseURL: cfg.Segmentation.Server, Fast: cfg.Segmentation.Fast, Log: log}
	}
	if cfg.Segmentation.AllowLocal {
		return &segment.Local{Log: log}
	}
	return nil
}

func printInventory(res *pipeline.Result) {
	v := res.Volume
	stats := volume.Summarize(v)
	fmt.Printf("Volume: %dx%dx%d voxels @ %.2fx%.2fx%.2f mm\n",
		v.Size[0], v.Size[1], v.Size[2], v.Spacing[0], v.Spacing[1], v.Spacing[2])
	fmt.Printf("Intensity: [%.0f, %.0f] HU, mean %.1f ± %.1f\n\n",
		stats.Min, stats.Max, stats.Mean, stats.StdDev)

	fmt.Println("Surfaces:")
	keys := res.Surfaces.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		s := res.Surfaces[key]
		fmt.Printf("  %-24s %8d vertices %8d faces\n", s.DisplayName, s.VertexCount(), s.FaceCount())
	}
	for _, skip := range res.Skipped {
		fmt.Printf("  %-24s skipped: %s\n", skip.Key, skip.Reason)
	}

	if m := res.TumorMetrics; m != nil {
		fmt.Println("\nTumor burden:")
		fmt.Printf("  components: %d\n", len(m.Components))
		fmt.Printf("  total:   %10.2f mL\n", m.TotalML)
		fmt.Printf("  largest: %10.2f mL\n", m.LargestML)
		fmt.Printf("  mean:    %10.2f mL\n", m.MeanML)
		fmt.Printf("  median:  %10.2f mL\n", m.MedianML)
		for _, c := range m.Components {
			fmt.Printf("    lesion %-3d %8d voxels %10.2f mL\n", c.LabelID, c.VoxelCount, c.VolumeML)
		}
	}
}
