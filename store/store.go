// Package store is the layered store: a single SQLite file holding one
// template grid plus named layers conforming to it. Two reserved keys,
// latitude and longitude, carry per-pixel coordinates of the template.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wgdzlh/sitelab/grid"
	"github.com/wgdzlh/sitelab/log"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	LatitudeKey  = "latitude"
	LongitudeKey = "longitude"
)

// IsReserved reports whether name is one of the coordinate keys.
func IsReserved(name string) bool {
	return name == LatitudeKey || name == LongitudeKey
}

type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
	tmpl     grid.Grid
	logTag   string
}

type options struct {
	readOnly    bool
	busyTimeout time.Duration
}

type Option func(*options)

// ReadOnly opens the store without taking the write lock.
func ReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// BusyTimeout makes lock contention wait up to d instead of failing at once.
func BusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

func dsn(path string, o options) string {
	q := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(" + strconv.FormatInt(o.busyTimeout.Milliseconds(), 10) + ")"}
	if o.readOnly {
		q = append(q, "mode=ro")
	} else {
		q = append(q, "_pragma=locking_mode(EXCLUSIVE)")
	}
	return "file:" + filepath.ToSlash(path) + "?" + strings.Join(q, "&")
}

// Create makes a new store at path with template tmpl and its coordinate
// arrays. The returned store holds the write lock.
func Create(path string, tmpl grid.Grid, lat, lon []float64, opts ...Option) (s *Store, err error) {
	if err = tmpl.Validate(); err != nil {
		return
	}
	if len(lat) != tmpl.Cells() || len(lon) != tmpl.Cells() {
		err = fmt.Errorf("%w: coordinate arrays hold %d/%d values for %d cells",
			grid.ErrShapeMismatch, len(lat), len(lon), tmpl.Cells())
		return
	}
	if _, e := os.Stat(path); e == nil {
		err = fmt.Errorf("%w: %s", ErrStoreExists, path)
		return
	}
	if dir := filepath.Dir(path); dir != "" {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return
		}
	}
	s, err = open(path, opts...)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			s.Close()
			os.Remove(path)
			s = nil
		}
	}()
	if err = s.writeTemplate(tmpl); err != nil {
		return
	}
	s.tmpl = tmpl
	for _, c := range []struct {
		key  string
		vals []float64
	}{{LatitudeKey, lat}, {LongitudeKey, lon}} {
		l, e := grid.FromBand(c.key, grid.Float32, tmpl, c.vals)
		if e != nil {
			err = e
			return
		}
		l.NoData = nil
		if err = s.putLayer(l, false); err != nil {
			return
		}
	}
	log.Info(s.logTag+"created layered store", zap.String("path", path),
		zap.Int("width", tmpl.Width), zap.Int("height", tmpl.Height))
	return
}

// Open opens an existing store. Without ReadOnly the store is migrated to the
// latest schema and locked exclusively until Close.
func Open(path string, opts ...Option) (s *Store, err error) {
	if _, e := os.Stat(path); e != nil {
		err = fmt.Errorf("%w: %s", ErrStoreNotFound, path)
		return
	}
	if s, err = open(path, opts...); err != nil {
		return
	}
	if s.tmpl, err = s.readTemplate(); err != nil {
		s.Close()
		s = nil
	}
	return
}

func open(path string, opts ...Option) (s *Store, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	db, err := sql.Open("sqlite", dsn(path, o))
	if err != nil {
		return
	}
	// one connection: the exclusive lock belongs to it
	db.SetMaxOpenConns(1)
	s = &Store{
		db:       db,
		path:     path,
		readOnly: o.readOnly,
		logTag:   "LayeredStore:",
	}
	if o.readOnly {
		err = db.Ping()
	} else {
		err = s.lock()
		if err == nil {
			err = s.MigrateUp()
		}
	}
	if err != nil {
		log.Error(s.logTag+"open store failed", zap.String("path", path), zap.Error(err))
		db.Close()
		s = nil
	}
	return
}

func (s *Store) lock() error {
	if _, err := s.db.Exec("BEGIN EXCLUSIVE; COMMIT;"); err != nil {
		return fmt.Errorf("failed to lock store: %w", err)
	}
	return nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Template() grid.Grid {
	return s.tmpl
}

func (s *Store) writeTemplate(g grid.Grid) error {
	tr, err := json.Marshal(g.Transform)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO template (id, width, height, transform, crs, nodata) VALUES (1, ?, ?, ?, ?, ?)`,
		g.Width, g.Height, string(tr), g.CRS, formatNoData(g.NoData))
	return err
}

// No-data values are kept as text: SQLite stores a NaN REAL as NULL.
func formatNoData(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseNoData(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad nodata %q: %w", s, err)
	}
	return v, nil
}

func (s *Store) readTemplate() (g grid.Grid, err error) {
	var tr, nd string
	err = s.db.QueryRow(`SELECT width, height, transform, crs, nodata FROM template WHERE id = 1`).
		Scan(&g.Width, &g.Height, &tr, &g.CRS, &nd)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNoTemplate
		return
	}
	if err != nil {
		return
	}
	if g.NoData, err = parseNoData(nd); err != nil {
		return
	}
	err = json.Unmarshal([]byte(tr), &g.Transform)
	return
}

// Keys lists every stored key, reserved coordinate keys included.
func (s *Store) Keys() (keys []string, err error) {
	rows, err := s.db.Query(`SELECT name FROM layers ORDER BY name`)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err = rows.Scan(&k); err != nil {
			return
		}
		keys = append(keys, k)
	}
	err = rows.Err()
	return
}

// Layers lists the layer names, excluding the coordinate keys.
func (s *Store) Layers() (names []string, err error) {
	keys, err := s.Keys()
	if err != nil {
		return
	}
	names = make([]string, 0, len(keys))
	for _, k := range keys {
		if !IsReserved(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return
}

func (s *Store) Has(name string) (ok bool, err error) {
	var n int
	err = s.db.QueryRow(`SELECT COUNT(1) FROM layers WHERE name = ?`, name).Scan(&n)
	ok = n > 0
	return
}

// WriteLayer inserts l. An existing layer of the same name is an error
// unless replace is set.
func (s *Store) WriteLayer(l *grid.Layer, replace bool) error {
	if IsReserved(l.Name) {
		return fmt.Errorf("%w: %q", ErrReservedLayer, l.Name)
	}
	if l.Name == "" {
		return fmt.Errorf("%w: empty layer name", ErrReservedLayer)
	}
	return s.putLayer(l, replace)
}

func (s *Store) putLayer(l *grid.Layer, replace bool) (err error) {
	if s.readOnly {
		return ErrReadOnly
	}
	if err = l.Conform(s.tmpl); err != nil {
		return
	}
	payload, err := encodePayload(l.DataType, l.Data)
	if err != nil {
		return
	}
	tx, err := s.db.Begin()
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	var n int
	if err = tx.QueryRow(`SELECT COUNT(1) FROM layers WHERE name = ?`, l.Name).Scan(&n); err != nil {
		return
	}
	if n > 0 {
		if !replace {
			err = fmt.Errorf("%w: %q", ErrLayerExists, l.Name)
			return
		}
		if _, err = tx.Exec(`DELETE FROM layer_attrs WHERE layer = ?`, l.Name); err != nil {
			return
		}
	}
	var nodata any
	if l.NoData != nil {
		nodata = formatNoData(*l.NoData)
	}
	_, err = tx.Exec(`
		INSERT INTO layers (name, description, dtype, bands, height, width, nodata, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			dtype       = excluded.dtype,
			bands       = excluded.bands,
			height      = excluded.height,
			width       = excluded.width,
			nodata      = excluded.nodata,
			payload     = excluded.payload,
			updated_at  = CURRENT_TIMESTAMP`,
		l.Name, l.Description, l.DataType.String(), l.Bands, l.Height, l.Width, nodata, payload)
	if err != nil {
		return
	}
	if err = tx.Commit(); err != nil {
		return
	}
	log.Info(s.logTag+"wrote layer", zap.String("layer", l.Name), zap.String("dtype", l.DataType.String()),
		zap.Int("bands", l.Bands), zap.Int("bytes", len(payload)), zap.Bool("replace", replace && n > 0))
	return
}

type layerMeta struct {
	description string
	dtype       grid.DataType
	bands       int
	height      int
	width       int
	nodata      *float64
}

func (s *Store) meta(name string) (m layerMeta, err error) {
	var (
		dt     string
		nodata sql.NullString
	)
	err = s.db.QueryRow(`SELECT description, dtype, bands, height, width, nodata FROM layers WHERE name = ?`, name).
		Scan(&m.description, &dt, &m.bands, &m.height, &m.width, &nodata)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%w: %q", ErrLayerNotFound, name)
		return
	}
	if err != nil {
		return
	}
	if nodata.Valid {
		v, perr := parseNoData(nodata.String)
		if perr != nil {
			err = fmt.Errorf("layer %q: %w", name, perr)
			return
		}
		m.nodata = &v
	}
	m.dtype, err = grid.ParseDataType(dt)
	return
}

// ReadLayer loads the named layer, reserved keys included.
func (s *Store) ReadLayer(name string) (l *grid.Layer, err error) {
	m, err := s.meta(name)
	if err != nil {
		return
	}
	var blob []byte
	if err = s.db.QueryRow(`SELECT payload FROM layers WHERE name = ?`, name).Scan(&blob); err != nil {
		return
	}
	data, err := decodePayload(m.dtype, blob)
	if err != nil {
		err = fmt.Errorf("layer %q: %w", name, err)
		return
	}
	l = &grid.Layer{
		Name:        name,
		Description: m.description,
		DataType:    m.dtype,
		NoData:      m.nodata,
		Bands:       m.bands,
		Height:      m.height,
		Width:       m.width,
		Data:        data,
	}
	err = l.Conform(s.tmpl)
	return
}

// Profile is the GeoTIFF profile of the named layer on the store's grid.
func (s *Store) Profile(name string) (p grid.Profile, err error) {
	m, err := s.meta(name)
	if err != nil {
		return
	}
	p = grid.ForGrid(s.tmpl, m.dtype, m.bands)
	p.NoData = m.nodata
	return
}

func (s *Store) Description(name string) (desc string, err error) {
	m, err := s.meta(name)
	desc = m.description
	return
}

func (s *Store) SetDescription(name, desc string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	res, err := s.db.Exec(`UPDATE layers SET description = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?`, desc, name)
	if err != nil {
		return err
	}
	return requireRow(res, name)
}

// SetAttr attaches a free-form key/value attribute to a layer.
func (s *Store) SetAttr(name, key, value string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if _, err := s.meta(name); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO layer_attrs (layer, key, value) VALUES (?, ?, ?)
		ON CONFLICT(layer, key) DO UPDATE SET value = excluded.value`, name, key, value)
	return err
}

func (s *Store) Attrs(name string) (attrs map[string]string, err error) {
	if _, err = s.meta(name); err != nil {
		return
	}
	rows, err := s.db.Query(`SELECT key, value FROM layer_attrs WHERE layer = ?`, name)
	if err != nil {
		return
	}
	defer rows.Close()
	attrs = map[string]string{}
	for rows.Next() {
		var k, v string
		if err = rows.Scan(&k, &v); err != nil {
			return
		}
		attrs[k] = v
	}
	err = rows.Err()
	return
}

func (s *Store) DeleteLayer(name string) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if IsReserved(name) {
		return fmt.Errorf("%w: %q", ErrReservedLayer, name)
	}
	res, err := s.db.Exec(`DELETE FROM layers WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if err = requireRow(res, name); err != nil {
		return err
	}
	log.Info(s.logTag+"deleted layer", zap.String("layer", name))
	return nil
}

// Coordinates returns the per-pixel latitude and longitude arrays.
func (s *Store) Coordinates() (lat, lon []float64, err error) {
	la, err := s.ReadLayer(LatitudeKey)
	if err != nil {
		return
	}
	lo, err := s.ReadLayer(LongitudeKey)
	if err != nil {
		return
	}
	lat, lon = la.Data, lo.Data
	return
}

func requireRow(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrLayerNotFound, name)
	}
	return nil
}
