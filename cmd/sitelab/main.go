package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/wgdzlh/sitelab"
	"github.com/wgdzlh/sitelab/log"
	"github.com/wgdzlh/sitelab/mask"
	"github.com/wgdzlh/sitelab/preview"
	"github.com/wgdzlh/sitelab/setback"
	"github.com/wgdzlh/sitelab/store"
)

const maxInputFileSize = 4 << 20

var errUsage = errors.New("usage")

var busyTimeout = flag.Duration("busy-timeout", 0, "How long to wait for a store locked by another writer")

type command struct {
	run  func(g *sitelab.Toolbox, args []string) error
	help string
}

var commands = map[string]command{
	"create-store":      {createStore, "Create a layered store on the grid of a template raster"},
	"layers-to-store":   {layersToStore, "Warp rasters onto the store template and store them"},
	"layers-from-store": {layersFromStore, "Extract store layers to GeoTIFF"},
	"list":              {list, "List the layers of a store"},
	"mask":              {computeMask, "Compose an inclusion mask from per-layer rules"},
	"setbacks":          {computeSetbacks, "Rasterize setbacks from vector features"},
	"download":          {download, "Download (and crop) remote rasters"},
	"preview":           {renderPreview, "Render a store layer to PNG"},
}

func main() {
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	dev := flag.Bool("dev", false, "Human-readable development logging")
	tmpDir := flag.String("tmp-dir", "", "Directory for temporary files (default system temp dir)")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}
	if err := log.Init(*logLevel, *dev); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	defer log.Sync()

	name := flag.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}
	g := sitelab.NewToolbox(*tmpDir)
	err := cmd.run(g, flag.Args()[1:])
	g.Close()
	if err != nil {
		if !errors.Is(err, errUsage) {
			log.Error("command failed", zap.String("command", name), zap.Error(err))
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		log.Sync()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `sitelab - siting model input preparation

Usage: sitelab [-log-level level] [-dev] [-tmp-dir dir] [-busy-timeout d] <command> [options]

Commands:`)
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	for _, n := range names {
		fmt.Fprintf(w, "  %s\t%s\n", n, commands[n].help)
	}
	w.Flush()
	fmt.Fprintln(os.Stderr, `
Run "sitelab <command> -h" for command options.`)
}

// required reports the first empty flag among pairs of name, value.
func required(fs *flag.FlagSet, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			fmt.Fprintf(os.Stderr, "Error: -%s is required\n", pairs[i])
			fs.Usage()
			return errUsage
		}
	}
	return nil
}

// loadJSON decodes a JSON input file into v, rejecting unknown fields.
func loadJSON(path string, v any) error {
	clean := filepath.Clean(path)
	if ext := filepath.Ext(clean); ext != sitelab.FILE_EXT_JSON {
		return fmt.Errorf("input file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return fmt.Errorf("failed to stat input file: %w", err)
	}
	if info.Size() > maxInputFileSize {
		return fmt.Errorf("input file too large: %d bytes", info.Size())
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err = dec.Decode(v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// openStore applies -busy-timeout to every store the commands open.
func openStore(path string, readOnly bool) (*store.Store, error) {
	opts := []store.Option{store.BusyTimeout(*busyTimeout)}
	if readOnly {
		opts = append(opts, store.ReadOnly())
	}
	return store.Open(path, opts...)
}

// splitList parses a comma-separated flag value, dropping blanks.
func splitList(s string) (out []string) {
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return
}

func createStore(g *sitelab.Toolbox, args []string) error {
	fs := flag.NewFlagSet("create-store", flag.ExitOnError)
	storePath := fs.String("store", "", "Path of the new layered store (required)")
	template := fs.String("template", "", "Raster whose grid becomes the store template (required)")
	fs.Parse(args)
	if err := required(fs, "store", *storePath, "template", *template); err != nil {
		return err
	}
	s, err := g.CreateStore(*storePath, *template)
	if err != nil {
		return err
	}
	return s.Close()
}

func layersToStore(g *sitelab.Toolbox, args []string) error {
	fs := flag.NewFlagSet("layers-to-store", flag.ExitOnError)
	storePath := fs.String("store", "", "Layered store path (required)")
	layers := fs.String("layers", "", `JSON file: {"name": {"fpath": "...", "description": "...", "resampling": "near"}} (required)`)
	replace := fs.Bool("replace", false, "Overwrite existing layers")
	fs.Parse(args)
	if err := required(fs, "store", *storePath, "layers", *layers); err != nil {
		return err
	}
	var sources map[string]sitelab.LayerSource
	if err := loadJSON(*layers, &sources); err != nil {
		return err
	}
	s, err := openStore(*storePath, false)
	if err != nil {
		return err
	}
	defer s.Close()
	return g.LayersToStore(s, sources, *replace)
}

func layersFromStore(g *sitelab.Toolbox, args []string) error {
	fs := flag.NewFlagSet("layers-from-store", flag.ExitOnError)
	storePath := fs.String("store", "", "Layered store path (required)")
	layers := fs.String("layers", "", `JSON file: {"name": "out.tif"}`)
	layer := fs.String("layer", "", "Single layer to extract (with -out)")
	out := fs.String("out", "", "Output GeoTIFF for -layer")
	fs.Parse(args)
	if err := required(fs, "store", *storePath); err != nil {
		return err
	}
	outputs := map[string]string{}
	if *layers != "" {
		if err := loadJSON(*layers, &outputs); err != nil {
			return err
		}
	}
	if *layer != "" {
		if err := required(fs, "out", *out); err != nil {
			return err
		}
		outputs[*layer] = *out
	}
	if len(outputs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: -layers or -layer is required")
		fs.Usage()
		return errUsage
	}
	s, err := openStore(*storePath, true)
	if err != nil {
		return err
	}
	defer s.Close()
	return g.LayersFromStore(s, outputs)
}

func list(_ *sitelab.Toolbox, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	storePath := fs.String("store", "", "Layered store path (required)")
	fs.Parse(args)
	if err := required(fs, "store", *storePath); err != nil {
		return err
	}
	s, err := openStore(*storePath, true)
	if err != nil {
		return err
	}
	defer s.Close()

	t := s.Template()
	fmt.Printf("template: %dx%d, transform %v, nodata %v\n", t.Width, t.Height, [6]float64(t.Transform), t.NoData)
	names, err := s.Layers()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDTYPE\tBANDS\tDESCRIPTION")
	for _, name := range names {
		p, err := s.Profile(name)
		if err != nil {
			return err
		}
		desc, err := s.Description(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, p.DataType, p.Count, desc)
	}
	return w.Flush()
}

func computeMask(g *sitelab.Toolbox, args []string) error {
	fs := flag.NewFlagSet("mask", flag.ExitOnError)
	storePath := fs.String("store", "", "Layered store path (required)")
	rulesPath := fs.String("rules", "", "JSON rules file keyed by layer name (required)")
	op := fs.String("op", string(mask.And), "How regular layers combine: and, or")
	minArea := fs.Float64("min-area", 0, "Drop included clusters smaller than this many km²")
	neighbors := fs.Int("neighbors", int(mask.Rook), "Cluster connectivity for -min-area: 4 or 8")
	outLayer := fs.String("out-layer", "", "Store the mask under this layer name")
	outPath := fs.String("out", "", "Write the mask to this GeoTIFF")
	replace := fs.Bool("replace", false, "Overwrite an existing -out-layer")
	fs.Parse(args)
	if err := required(fs, "store", *storePath, "rules", *rulesPath); err != nil {
		return err
	}
	rules, err := mask.LoadRules(*rulesPath)
	if err != nil {
		return err
	}
	s, err := openStore(*storePath, *outLayer == "")
	if err != nil {
		return err
	}
	defer s.Close()

	mo := mask.Options{Operator: mask.Operator(*op), Neighbors: mask.Neighbors(*neighbors)}
	if *minArea > 0 {
		if mo.MinAreaPixels, err = mask.MinAreaPixels(*minArea, s.Template()); err != nil {
			return err
		}
	}
	_, err = g.ComputeMask(s, rules, mo, sitelab.Output{Layer: *outLayer, Path: *outPath, Replace: *replace})
	return err
}

func computeSetbacks(g *sitelab.Toolbox, args []string) error {
	fs := flag.NewFlagSet("setbacks", flag.ExitOnError)
	storePath := fs.String("store", "", "Layered store path (required)")
	cfgPath := fs.String("config", "", "JSON setback config (required)")
	features := fs.String("features", "", "Vector features: shapefile, zipped shapefile, GeoPackage or GeoJSON; - reads GeoJSON in the store CRS from stdin (required)")
	field := fs.String("filter-field", "", "Keep only features whose attribute ...")
	values := fs.String("filter-values", "", "... is one of these comma-separated values")
	outLayer := fs.String("out-layer", "", "Store the setbacks under this layer name")
	outPath := fs.String("out", "", "Write the setbacks to this GeoTIFF")
	replace := fs.Bool("replace", false, "Overwrite an existing -out-layer")
	fs.Parse(args)
	if err := required(fs, "store", *storePath, "config", *cfgPath, "features", *features); err != nil {
		return err
	}
	cfg, err := setback.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	s, err := openStore(*storePath, *outLayer == "")
	if err != nil {
		return err
	}
	defer s.Close()

	filter := sitelab.FeatureFilter{Field: *field, Values: splitList(*values)}
	var feats []sitelab.Feature
	if *features == "-" {
		feats, err = readStdinFeatures(os.Stdin, filter)
	} else {
		feats, err = g.ReadFeatures(*features, s.Template(), filter)
	}
	if err != nil {
		return err
	}
	_, err = g.ComputeSetbacks(s, feats, cfg, sitelab.Output{Layer: *outLayer, Path: *outPath, Replace: *replace})
	return err
}

// readStdinFeatures decodes a GeoJSON FeatureCollection already in the
// store's CRS.
func readStdinFeatures(r io.Reader, filter sitelab.FeatureFilter) (feats []sitelab.Feature, err error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputFileSize+1))
	if err != nil {
		return
	}
	if len(data) > maxInputFileSize {
		return nil, fmt.Errorf("stdin features exceed %d bytes", maxInputFileSize)
	}
	all, err := setback.ReadGeoJSON(data)
	if err != nil {
		return
	}
	for _, f := range all {
		if filter.Keep(f.Properties) {
			feats = append(feats, f)
		}
	}
	return
}

func download(g *sitelab.Toolbox, args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	itemsPath := fs.String("items", "", `JSON file: [{"url": "...", "fpath": "..."}] (required)`)
	workers := fs.Int("workers", sitelab.DefaultDownloadWorkers, "Concurrent downloads")
	crop := fs.Bool("crop", true, "Crop the default 2000x2000 window out of each raster")
	fs.Parse(args)
	if err := required(fs, "items", *itemsPath); err != nil {
		return err
	}
	var items []sitelab.DownloadItem
	if err := loadJSON(*itemsPath, &items); err != nil {
		return err
	}
	opts := sitelab.DownloadOptions{Workers: *workers}
	if *crop {
		w := sitelab.DefaultWindow()
		opts.Crop = &w
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	_, err := g.Download(ctx, items, opts)
	return err
}

func renderPreview(_ *sitelab.Toolbox, args []string) error {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	storePath := fs.String("store", "", "Layered store path (required)")
	layer := fs.String("layer", "", "Layer to render (required)")
	out := fs.String("out", "", "Output PNG (required)")
	title := fs.String("title", "", "Plot title (default layer name)")
	fs.Parse(args)
	if err := required(fs, "store", *storePath, "layer", *layer, "out", *out); err != nil {
		return err
	}
	s, err := openStore(*storePath, true)
	if err != nil {
		return err
	}
	defer s.Close()
	l, err := s.ReadLayer(*layer)
	if err != nil {
		return err
	}
	if *title == "" {
		*title = *layer
	}
	return preview.Render(*out, l, s.Template(), *title)
}
