// Package store keeps frame history in an embedded pebble database. Values
// are JSON documents compressed with zstd.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/DataDog/zstd"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/uber/h3-go/v4"

	"github.com/signalsfoundry/constellation-router/internal/logging"
	"github.com/signalsfoundry/constellation-router/model"
)

// ErrNotFound is returned when a key has no record.
var ErrNotFound = errors.New("store: not found")

// RouteCellResolution is the H3 resolution used to bucket route terminals.
// Resolution 5 cells are about 250 km² so nearby terminals share history.
const RouteCellResolution = 5

const (
	framePrefix = "frame/"
	latestKey   = "frame/latest"
	routePrefix = "route/"
)

// Options configures Open.
type Options struct {
	// InMemory keeps the database in memory; Dir is then only a name.
	InMemory bool
	// Sync forces an fsync per write.
	Sync bool
}

// FrameStore persists frame summaries and the latest route per terminal
// pair.
type FrameStore struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
	log       logging.Logger
}

// Open opens (or creates) the database at dir.
func Open(dir string, opts Options, log logging.Logger) (*FrameStore, error) {
	if log == nil {
		log = logging.Noop()
	}
	pOpts := &pebble.Options{}
	if opts.InMemory {
		pOpts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, pOpts)
	if err != nil {
		return nil, fmt.Errorf("open frame store %s: %w", dir, err)
	}
	wo := pebble.NoSync
	if opts.Sync {
		wo = pebble.Sync
	}
	log.Debug(context.Background(), "frame store opened",
		logging.String("dir", dir), logging.Bool("in_memory", opts.InMemory))
	return &FrameStore{db: db, writeOpts: wo, log: log}, nil
}

// Close flushes and closes the database.
func (s *FrameStore) Close() error {
	if err := s.db.Close(); err != nil {
		s.log.Warn(context.Background(), "frame store close failed", logging.Err(err))
		return err
	}
	return nil
}

// frameKey zero-pads so keys sort in frame order.
func frameKey(frame int) []byte {
	return []byte(fmt.Sprintf("%s%012d", framePrefix, frame))
}

func cellOf(p model.GroundPoint) h3.Cell {
	return h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), RouteCellResolution)
}

func routeKey(src, dst h3.Cell) []byte {
	return []byte(routePrefix + src.String() + "/" + dst.String())
}

// PutFrame stores f under its frame number and marks it as the latest.
func (s *FrameStore) PutFrame(f model.FrameSummary) error {
	val, err := encode(f)
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", f.Frame, err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(frameKey(f.Frame), val, nil); err != nil {
		return fmt.Errorf("put frame %d: %w", f.Frame, err)
	}
	if err := b.Set([]byte(latestKey), []byte(strconv.Itoa(f.Frame)), nil); err != nil {
		return fmt.Errorf("put latest frame: %w", err)
	}
	if err := b.Commit(s.writeOpts); err != nil {
		return fmt.Errorf("commit frame %d: %w", f.Frame, err)
	}
	return nil
}

// GetFrame loads one frame summary.
func (s *FrameStore) GetFrame(frame int) (model.FrameSummary, error) {
	var f model.FrameSummary
	raw, err := s.get(frameKey(frame))
	if err != nil {
		return f, fmt.Errorf("frame %d: %w", frame, err)
	}
	if err := decode(raw, &f); err != nil {
		return f, fmt.Errorf("decode frame %d: %w", frame, err)
	}
	return f, nil
}

// LatestFrame loads the most recently stored frame summary.
func (s *FrameStore) LatestFrame() (model.FrameSummary, error) {
	raw, err := s.get([]byte(latestKey))
	if err != nil {
		return model.FrameSummary{}, fmt.Errorf("latest frame: %w", err)
	}
	frame, err := strconv.Atoi(string(raw))
	if err != nil {
		return model.FrameSummary{}, fmt.Errorf("latest frame pointer %q: %w", raw, err)
	}
	return s.GetFrame(frame)
}

// PutRoute stores r as the latest route between its terminals' cells.
func (s *FrameStore) PutRoute(r model.RouteResult) error {
	val, err := encode(r)
	if err != nil {
		return fmt.Errorf("encode route: %w", err)
	}
	if err := s.db.Set(routeKey(cellOf(r.Src), cellOf(r.Dst)), val, s.writeOpts); err != nil {
		return fmt.Errorf("put route: %w", err)
	}
	return nil
}

// LatestRoute loads the last route stored for terminals in the same cells
// as src and dst. When that pair has no record the immediate neighbour
// cells of both ends are searched.
func (s *FrameStore) LatestRoute(src, dst model.GroundPoint) (model.RouteResult, error) {
	var r model.RouteResult
	a, b := cellOf(src), cellOf(dst)
	raw, err := s.get(routeKey(a, b))
	if errors.Is(err, ErrNotFound) {
		raw, err = s.nearbyRoute(a, b)
	}
	if err != nil {
		return r, fmt.Errorf("route %s -> %s: %w", src.Name, dst.Name, err)
	}
	if err := decode(raw, &r); err != nil {
		return r, fmt.Errorf("decode route: %w", err)
	}
	return r, nil
}

func (s *FrameStore) nearbyRoute(src, dst h3.Cell) ([]byte, error) {
	for _, a := range h3.GridDisk(src, 1) {
		for _, b := range h3.GridDisk(dst, 1) {
			raw, err := s.get(routeKey(a, b))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return raw, err
		}
	}
	return nil, ErrNotFound
}

// get returns a copy of the value at key.
func (s *FrameStore) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return zstd.Compress(nil, raw)
}

func decode(data []byte, v any) error {
	raw, err := zstd.Decompress(nil, data)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	return json.Unmarshal(raw, v)
}
