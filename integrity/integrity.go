// Package integrity implements deker's four-level chain-of-responsibility
// consistency checker, the Go counterpart of checkers.py's CheckerBase
// subclasses: each level only runs once the prior one has, and a failure
// either aborts the check immediately or is accumulated into a Report,
// depending on the caller's stop_on_error choice.
package integrity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	deker "github.com/openweathermap/deker-go"
	"github.com/openweathermap/deker-go/internal/layout"
	"github.com/openweathermap/deker-go/internal/lock"
	"github.com/openweathermap/deker-go/schema"
	"github.com/openweathermap/deker-go/slicer"
)

// Level is how deep Check walks the chain of responsibility.
type Level int

const (
	LevelCollections Level = iota + 1
	LevelArrays
	LevelPaths
	LevelData
)

// Issue is one inconsistency found at a given level, grouped by collection
// the way checkers.py's report formatting groups its findings.
type Issue struct {
	Collection string
	Category   string // "collections", "arrays", "paths", "data"
	Message    string
}

// Report accumulates every Issue found by a stop_on_error=false Check.
type Report struct {
	Issues []Issue
}

// Empty reports whether no inconsistency was found.
func (r *Report) Empty() bool { return len(r.Issues) == 0 }

// String renders the report as a multi-line summary grouped by collection
// then category, suitable for writing to a report file.
func (r *Report) String() string {
	if r.Empty() {
		return "integrity check: no issues found"
	}
	byCollection := map[string][]Issue{}
	for _, iss := range r.Issues {
		byCollection[iss.Collection] = append(byCollection[iss.Collection], iss)
	}
	names := make([]string, 0, len(byCollection))
	for name := range byCollection {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "integrity check: %d issue(s) found\n", len(r.Issues))
	for _, name := range names {
		fmt.Fprintf(&b, "collection %q:\n", name)
		for _, iss := range byCollection[name] {
			fmt.Fprintf(&b, "  [%s] %s\n", iss.Category, iss.Message)
		}
	}
	return b.String()
}

// Checker runs the chain of responsibility against one Client's storage root.
type Checker struct {
	client *deker.Client
}

// NewChecker builds a Checker bound to client.
func NewChecker(client *deker.Client) *Checker {
	return &Checker{client: client}
}

// Check runs every level up to and including level. If stopOnError is true,
// the first Issue found aborts the chain and is returned wrapped in
// deker.ErrIntegrity; otherwise every level that can still run despite
// earlier issues does, and every Issue found is returned in the Report. If
// collectionName is non-empty, checks are scoped to that collection alone.
func (c *Checker) Check(ctx context.Context, level Level, collectionName string, stopOnError bool) (*Report, error) {
	report := &Report{}
	stages := []func(context.Context, string) ([]Issue, error){
		c.checkCollections,
		c.checkArrays,
		c.checkPaths,
		c.checkData,
	}
	for i, stage := range stages {
		if Level(i+1) > level {
			break
		}
		issues, err := stage(ctx, collectionName)
		if err != nil {
			return report, err
		}
		if stopOnError && len(issues) > 0 {
			report.Issues = append(report.Issues, issues[0])
			return report, fmt.Errorf("%w: %s", deker.ErrIntegrity, issues[0].Message)
		}
		report.Issues = append(report.Issues, issues...)
	}
	return report, nil
}

// checkCollections verifies every collection initializes from its metadata
// and owns exactly one matching ".lock" sentinel under collections/, with
// no orphan sentinels left pointing at nothing.
func (c *Checker) checkCollections(ctx context.Context, collectionName string) ([]Issue, error) {
	cfg := c.client.Config()
	collectionsDir := filepath.Join(cfg.Root, deker.DefaultCollectionsDir)

	names, err := c.client.CollectionNames()
	if err != nil {
		return nil, fmt.Errorf("integrity: listing collections: %w", err)
	}
	var issues []Issue
	for _, name := range names {
		if collectionName != "" && name != collectionName {
			continue
		}
		if _, err := c.client.OpenCollection(ctx, name); err != nil {
			issues = append(issues, Issue{Collection: name, Category: "collections",
				Message: fmt.Sprintf("metadata does not deserialize: %v", err)})
			continue
		}
		lockPath := filepath.Join(collectionsDir, name+string(lock.ExtCollection))
		if _, err := os.Stat(lockPath); err != nil {
			issues = append(issues, Issue{Collection: name, Category: "collections",
				Message: fmt.Sprintf("missing lock sentinel %s", lockPath)})
		}
	}

	entries, err := os.ReadDir(collectionsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("integrity: scanning %s: %w", collectionsDir, err)
	}
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), string(lock.ExtCollection)) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), string(lock.ExtCollection))
		if collectionName != "" && name != collectionName {
			continue
		}
		if !known[name] {
			issues = append(issues, Issue{Collection: name, Category: "collections",
				Message: fmt.Sprintf("orphan lock sentinel %s has no matching collection", e.Name())})
		}
	}
	return issues, nil
}

// checkArrays verifies no stray create/read/varray-write lock sentinels
// remain under a collection's data directories, and that every array's and
// varray's metadata deserializes.
func (c *Checker) checkArrays(ctx context.Context, collectionName string) ([]Issue, error) {
	var issues []Issue
	names, err := c.namesToCheck(collectionName)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		coll, err := c.client.OpenCollection(ctx, name)
		if err != nil {
			continue // already reported at the collections level
		}

		strayIssues, err := c.strayLocks(name, coll)
		if err != nil {
			return nil, err
		}
		issues = append(issues, strayIssues...)

		if coll.IsVArray() {
			mgr, err := coll.VArrays()
			if err != nil {
				return nil, err
			}
			if _, err := mgr.Iterate(ctx); err != nil {
				issues = append(issues, Issue{Collection: name, Category: "arrays",
					Message: fmt.Sprintf("varray metadata does not deserialize: %v", err)})
			}
		} else {
			mgr, err := coll.Arrays()
			if err != nil {
				return nil, err
			}
			if _, err := mgr.Iterate(ctx); err != nil {
				issues = append(issues, Issue{Collection: name, Category: "arrays",
					Message: fmt.Sprintf("array metadata does not deserialize: %v", err)})
			}
		}
	}
	return issues, nil
}

func (c *Checker) strayLocks(collectionName string, coll *deker.Collection) ([]Issue, error) {
	cfg := c.client.Config()
	var dirs []string
	if coll.IsVArray() {
		dirs = []string{
			filepath.Join(cfg.Root, deker.DefaultVArrayDataDir, collectionName),
			filepath.Join(cfg.Root, deker.DefaultArrayDataDir, collectionName),
		}
	} else {
		dirs = []string{filepath.Join(cfg.Root, deker.DefaultArrayDataDir, collectionName)}
	}

	var issues []Issue
	suffixes := []lock.Extension{lock.ExtArrayCreate, lock.ExtArrayRead, lock.ExtVArrayPerTile}
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			for _, ext := range suffixes {
				if strings.HasSuffix(path, string(ext)) {
					issues = append(issues, Issue{Collection: collectionName, Category: "arrays",
						Message: fmt.Sprintf("stray lock sentinel left behind: %s", path)})
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("integrity: scanning %s: %w", dir, err)
		}
	}
	return issues, nil
}

// checkPaths verifies every Array/VArray that carries primary attributes
// has a symlink directory containing exactly one entry, resolving to the
// expected payload path.
func (c *Checker) checkPaths(ctx context.Context, collectionName string) ([]Issue, error) {
	var issues []Issue
	names, err := c.namesToCheck(collectionName)
	if err != nil {
		return nil, err
	}
	cfg := c.client.Config()
	for _, name := range names {
		coll, err := c.client.OpenCollection(ctx, name)
		if err != nil {
			continue
		}

		if coll.IsVArray() {
			mgr, err := coll.VArrays()
			if err != nil {
				return nil, err
			}
			varrays, err := mgr.Iterate(ctx)
			if err != nil {
				continue
			}
			symDir := filepath.Join(cfg.Root, deker.DefaultVArraySymlinksDir, name)
			for _, v := range varrays {
				primary := coll.VArraySchema().PrimaryAttributes()
				if len(primary) == 0 {
					continue
				}
				issues = append(issues, checkSymlink(name, symDir, primary, v.PrimaryAttributes(),
					layout.MainPath(filepath.Join(cfg.Root, deker.DefaultVArrayDataDir, name), v.ID())+".json")...)
			}
		} else {
			mgr, err := coll.Arrays()
			if err != nil {
				return nil, err
			}
			arrays, err := mgr.Iterate(ctx)
			if err != nil {
				continue
			}
			symDir := filepath.Join(cfg.Root, deker.DefaultArraySymlinksDir, name)
			for _, a := range arrays {
				primary := coll.ArraySchema().PrimaryAttributes()
				if len(primary) == 0 {
					continue
				}
				issues = append(issues, checkSymlink(name, symDir, primary, a.PrimaryAttributes(),
					layout.MainPath(filepath.Join(cfg.Root, deker.DefaultArrayDataDir, name), a.ID())+".tdb")...)
			}
		}
	}
	return issues, nil
}

func checkSymlink(collectionName, symDir string, primary []schema.AttributeSchema, values map[string]any, expectedPayload string) []Issue {
	pvSlice := make([]layout.PrimaryAttrValue, len(primary))
	for i, pa := range primary {
		pvSlice[i] = layout.PrimaryAttrValue{Name: pa.Name, Value: values[pa.Name]}
	}
	symPath := layout.SymlinkPath(symDir, pvSlice)
	parent := filepath.Dir(symPath)

	entries, err := os.ReadDir(parent)
	if err != nil {
		return []Issue{{Collection: collectionName, Category: "paths",
			Message: fmt.Sprintf("symlink directory %s not found", parent)}}
	}
	if len(entries) != 1 {
		return []Issue{{Collection: collectionName, Category: "paths",
			Message: fmt.Sprintf("symlink directory %s contains %d entries, expected exactly 1", parent, len(entries))}}
	}

	resolved, err := filepath.EvalSymlinks(filepath.Join(parent, entries[0].Name()))
	if err != nil {
		return []Issue{{Collection: collectionName, Category: "paths",
			Message: fmt.Sprintf("symlink %s does not resolve: %v", symPath, err)}}
	}
	wantResolved, err := filepath.EvalSymlinks(expectedPayload)
	if err == nil && resolved != wantResolved {
		return []Issue{{Collection: collectionName, Category: "paths",
			Message: fmt.Sprintf("symlink %s resolves to %s, expected %s", symPath, resolved, expectedPayload)}}
	}
	return nil
}

// checkData verifies that reading the last cell of each Array's payload
// returns a buffer whose element type matches its schema's dtype. VArrays
// have no payload of their own (their tiles are plain Arrays) and are
// skipped here, matching the reference implementation checking leaf arrays.
func (c *Checker) checkData(ctx context.Context, collectionName string) ([]Issue, error) {
	var issues []Issue
	names, err := c.namesToCheck(collectionName)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		coll, err := c.client.OpenCollection(ctx, name)
		if err != nil || coll.IsVArray() {
			continue
		}
		mgr, err := coll.Arrays()
		if err != nil {
			return nil, err
		}
		arrays, err := mgr.Iterate(ctx)
		if err != nil {
			continue
		}
		for _, a := range arrays {
			idx := make([]slicer.Indexer, len(a.Schema().Dimensions))
			for i, d := range a.Schema().Dimensions {
				idx[i] = slicer.Indexer{Kind: slicer.KindInt, Int: d.DimSize() - 1}
			}
			sub, err := a.Subset(idx...)
			if err != nil {
				issues = append(issues, Issue{Collection: name, Category: "data",
					Message: fmt.Sprintf("array %s: cannot address last cell: %v", a.ID(), err)})
				continue
			}
			data, err := sub.Read(ctx)
			if err != nil {
				issues = append(issues, Issue{Collection: name, Category: "data",
					Message: fmt.Sprintf("array %s: reading last cell failed: %v", a.ID(), err)})
				continue
			}
			if !dtypeMatches(a.Schema().Dtype, data) {
				issues = append(issues, Issue{Collection: name, Category: "data",
					Message: fmt.Sprintf("array %s: last cell type %T does not match dtype %s", a.ID(), data, a.Schema().Dtype)})
			}
		}
	}
	return issues, nil
}

func dtypeMatches(dt schema.Dtype, data any) bool {
	t := reflect.TypeOf(data)
	if t == nil || t.Kind() != reflect.Slice {
		return false
	}
	switch dt {
	case schema.DtypeInt64:
		return t.Elem().Kind() == reflect.Int64
	case schema.DtypeFloat64, schema.DtypeComplex128:
		return t.Elem().Kind() == reflect.Float64
	default:
		return false
	}
}

func (c *Checker) namesToCheck(collectionName string) ([]string, error) {
	if collectionName != "" {
		return []string{collectionName}, nil
	}
	return c.client.CollectionNames()
}
