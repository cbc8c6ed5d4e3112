package sitelab

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wgdzlh/sitelab/log"
	"github.com/wgdzlh/sitelab/utils"
)

// DownloadItem is one remote raster. Crop overrides DownloadOptions.Crop
// for this file.
type DownloadItem struct {
	URL  string  `json:"url"`
	Path string  `json:"fpath"`
	Crop *Window `json:"crop,omitempty"`
}

type DownloadOptions struct {
	Workers int
	Client  *http.Client
	// Crop, when set, is cut out of every downloaded raster.
	Crop *Window
}

// DownloadResult reports what happened to each item, in item order.
type DownloadResult struct {
	Path    string
	Skipped bool
	Cropped bool
}

// Download fetches items with a fixed pool of workers. Files that already
// exist are skipped. Every item is attempted; failures are combined into
// one error wrapping ErrDownload.
func (g *Toolbox) Download(ctx context.Context, items []DownloadItem, opts DownloadOptions) (res []DownloadResult, err error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultDownloadWorkers
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Minute}
	}
	res = make([]DownloadResult, len(items))

	var (
		eg   errgroup.Group
		mu   sync.Mutex
		errs error
	)
	eg.SetLimit(opts.Workers)
	for i, item := range items {
		eg.Go(func() error {
			r, e := g.downloadOne(ctx, item, opts)
			res[i] = r
			if e != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%w: %s: %v", ErrDownload, item.URL, e))
				mu.Unlock()
			}
			return nil
		})
	}
	eg.Wait()

	log.Info(g.logTag+"downloads finished", zap.Int("items", len(items)),
		zap.Int("failed", len(multierr.Errors(errs))))
	err = errs
	return
}

func (g *Toolbox) downloadOne(ctx context.Context, item DownloadItem, opts DownloadOptions) (r DownloadResult, err error) {
	r.Path = item.Path
	if err = utils.EnsureParentDir(item.Path); err != nil {
		return
	}
	if _, serr := os.Stat(item.Path); serr == nil {
		log.Info(g.logTag+"file already exists", zap.String("path", item.Path))
		r.Skipped = true
		return
	}
	if err = fetch(ctx, opts.Client, item.URL, item.Path); err != nil {
		return
	}
	crop := opts.Crop
	if item.Crop != nil {
		crop = item.Crop
	}
	if crop != nil {
		if _, err = g.CropRaster(item.Path, *crop); err != nil {
			return
		}
		r.Cropped = true
	}
	log.Info(g.logTag+"downloaded", zap.String("url", item.URL), zap.String("path", item.Path),
		zap.Bool("cropped", r.Cropped))
	return
}

// fetch writes the body of url to path through a temp file in the same
// directory, so an interrupted download never leaves a partial file behind.
func fetch(ctx context.Context, client *http.Client, url, path string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+uuid.NewString()+filepath.Ext(path))
	out, err := os.Create(tmp)
	if err != nil {
		return
	}
	_, err = io.Copy(out, resp.Body)
	err = multierr.Append(err, out.Close())
	if err != nil {
		os.Remove(tmp)
		return
	}
	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
	}
	return
}

