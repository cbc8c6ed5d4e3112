package utils

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	FILE_EXT_SHP = ".shp"
	FILE_EXT_CPG = ".cpg"
)

var (
	ErrNoShpInZip  = errors.New("no shp in zip")
	ErrUnsafeEntry = errors.New("zip entry escapes target dir")
)

func GetUniqSubDir(parentPath string) (path string, err error) {
	path = filepath.Join(parentPath, uuid.NewString())
	err = os.MkdirAll(path, os.ModePerm)
	return
}

func GetFilenameWithoutExt(path string) (name string) {
	name = filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(path))
	return
}

// EnsureParentDir creates the directory holding path.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), os.ModePerm)
}

// Unzip extracts zipFile into dstDir and returns the extracted file paths.
func Unzip(zipFile, dstDir string) (files []string, err error) {
	r, err := zip.OpenReader(zipFile)
	if err != nil {
		return
	}
	defer func() {
		multierr.AppendInto(&err, r.Close())
	}()
	root := filepath.Clean(dstDir) + string(os.PathSeparator)
	for _, f := range r.File {
		target := filepath.Join(dstDir, f.Name)
		if !strings.HasPrefix(target, root) {
			err = fmt.Errorf("%w: %s", ErrUnsafeEntry, f.Name)
			return
		}
		if f.FileInfo().IsDir() {
			if err = os.MkdirAll(target, os.ModePerm); err != nil {
				return
			}
			continue
		}
		if err = extract(f, target); err != nil {
			return
		}
		files = append(files, target)
	}
	return
}

func extract(f *zip.File, target string) (err error) {
	if err = EnsureParentDir(target); err != nil {
		return
	}
	rc, err := f.Open()
	if err != nil {
		return
	}
	defer func() {
		multierr.AppendInto(&err, rc.Close())
	}()
	out, err := os.Create(target)
	if err != nil {
		return
	}
	defer func() {
		multierr.AppendInto(&err, out.Close())
	}()
	_, err = io.Copy(out, rc)
	return
}

// GetShpInZip extracts a zipped shapefile and returns the .shp path and the
// code page named by its .cpg, if any.
func GetShpInZip(zipFile, dstDir string) (path, cpg string, err error) {
	files, err := Unzip(zipFile, dstDir)
	if err != nil {
		return
	}
	for _, file := range files {
		if strings.EqualFold(filepath.Ext(file), FILE_EXT_SHP) {
			path = file
			break
		}
	}
	if path == "" {
		err = ErrNoShpInZip
		return
	}
	cpg = ReadCpg(path)
	return
}

// ReadCpg returns the code page declared next to a shapefile, "" if none.
func ReadCpg(shp string) string {
	base := strings.TrimSuffix(shp, filepath.Ext(shp))
	for _, ext := range []string{FILE_EXT_CPG, strings.ToUpper(FILE_EXT_CPG)} {
		if enc, err := os.ReadFile(base + ext); err == nil {
			return strings.TrimSpace(string(enc))
		}
	}
	return ""
}
