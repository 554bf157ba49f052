// Command deker is a thin CLI driver around the deker-go library, the Go
// counterpart of the teacher's own cmd/main.go convention of a separate
// binary wrapping the library root package.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	deker "github.com/openweathermap/deker-go"
	"github.com/openweathermap/deker-go/integrity"
	"github.com/openweathermap/deker-go/internal/dlog"
	"github.com/openweathermap/deker-go/schema"
	"github.com/openweathermap/deker-go/slicer"
	"github.com/openweathermap/deker-go/storage"
)

// logLevel is set from the --log-level global flag before any command
// action runs, gating internal/dlog for the whole process.
var logLevel = "info"

// dimensionSpec is the JSON shape a --schema file's "dimensions" entries
// take; kept local to the CLI rather than reusing the root package's
// internal metadata codec, which is not part of the library's public API.
type dimensionSpec struct {
	Name      string   `json:"name"`
	Size      int      `json:"size"`
	Type      string   `json:"type"` // "generic" or "time"; default "generic"
	Labels    []string `json:"labels,omitempty"`
	StepMicro int64    `json:"step_microseconds,omitempty"`
	Start     string   `json:"start_value,omitempty"` // RFC3339 or "$ref:<attribute>"
}

type attributeSpec struct {
	Name    string `json:"name"`
	Dtype   string `json:"dtype"`
	Primary bool   `json:"primary"`
}

type schemaSpec struct {
	Dtype      string          `json:"dtype"`
	FillValue  any             `json:"fill_value,omitempty"`
	Dimensions []dimensionSpec `json:"dimensions"`
	Attributes []attributeSpec `json:"attributes,omitempty"`
	VGrid      []int           `json:"vgrid,omitempty"` // present only for VArraySchema
}

func load_schema_spec(path string) (schemaSpec, error) {
	var s schemaSpec
	blob, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(blob, &s); err != nil {
		return s, err
	}
	return s, nil
}

func build_dimensions(specs []dimensionSpec) ([]schema.Dimension, error) {
	dims := make([]schema.Dimension, len(specs))
	for i, ds := range specs {
		if ds.Type == "time" {
			var start any = ds.Start
			if strings.HasPrefix(ds.Start, "$ref:") {
				start = schema.TimeStartRefPrefix + strings.TrimPrefix(ds.Start, "$ref:")
			} else if ds.Start != "" {
				t, err := time.Parse(time.RFC3339, ds.Start)
				if err != nil {
					return nil, fmt.Errorf("dimension %s: parsing start_value: %w", ds.Name, err)
				}
				start = t
			}
			td, err := schema.NewTimeDimensionSchema(ds.Name, ds.Size, time.Duration(ds.StepMicro)*time.Microsecond, start)
			if err != nil {
				return nil, err
			}
			dims[i] = td
			continue
		}
		var labels *schema.Labels
		if len(ds.Labels) > 0 {
			vals := make([]any, len(ds.Labels))
			for j, l := range ds.Labels {
				vals[j] = l
			}
			l, err := schema.NewLabels(vals)
			if err != nil {
				return nil, err
			}
			labels = &l
		}
		d, err := schema.NewDimensionSchema(ds.Name, ds.Size, labels, nil)
		if err != nil {
			return nil, err
		}
		dims[i] = d
	}
	return dims, nil
}

func build_attributes(specs []attributeSpec) ([]schema.AttributeSchema, error) {
	attrs := make([]schema.AttributeSchema, len(specs))
	for i, as := range specs {
		dt, err := schema.ParseDtype(as.Dtype)
		if err != nil {
			return nil, err
		}
		a, err := schema.NewAttributeSchema(as.Name, dt, as.Primary)
		if err != nil {
			return nil, err
		}
		attrs[i] = a
	}
	return attrs, nil
}

func build_schema(s schemaSpec) (any, error) {
	dt, err := schema.ParseDtype(s.Dtype)
	if err != nil {
		return nil, err
	}
	dims, err := build_dimensions(s.Dimensions)
	if err != nil {
		return nil, err
	}
	attrs, err := build_attributes(s.Attributes)
	if err != nil {
		return nil, err
	}
	if len(s.VGrid) > 0 {
		return schema.NewVArraySchema(dims, dt, s.FillValue, attrs, s.VGrid)
	}
	return schema.NewArraySchema(dims, dt, s.FillValue, attrs)
}

func open_client(root string) (*deker.Client, error) {
	adapter, err := storage.NewTileDBAdapter(storage.Options{})
	if err != nil {
		return nil, err
	}
	cfg := deker.DefaultConfig(root)
	cfg.LogLevel = logLevel
	return deker.NewClient(cfg, adapter)
}

func create_collection(root, name, schemaPath string) error {
	spec, err := load_schema_spec(schemaPath)
	if err != nil {
		return fmt.Errorf("reading schema file: %w", err)
	}
	as, err := build_schema(spec)
	if err != nil {
		return fmt.Errorf("building schema: %w", err)
	}

	client, err := open_client(root)
	if err != nil {
		return err
	}
	defer client.Close()

	dlog.Info("creating collection:", name)
	_, err = client.CreateCollection(context.Background(), name, as)
	return err
}

func put_array(root, collectionName, primaryJSON, customJSON, dataPath string) error {
	var primary, custom map[string]any
	if primaryJSON != "" {
		if err := json.Unmarshal([]byte(primaryJSON), &primary); err != nil {
			return fmt.Errorf("parsing --primary: %w", err)
		}
	}
	if customJSON != "" {
		if err := json.Unmarshal([]byte(customJSON), &custom); err != nil {
			return fmt.Errorf("parsing --custom: %w", err)
		}
	}

	client, err := open_client(root)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()
	coll, err := client.OpenCollection(ctx, collectionName)
	if err != nil {
		return err
	}

	var dims []schema.Dimension
	var dtype schema.Dtype
	var updateFn func(data any) error

	if coll.IsVArray() {
		mgr, err := coll.VArrays()
		if err != nil {
			return err
		}
		v, err := mgr.Create(ctx, primary, custom)
		if err != nil {
			return err
		}
		dims, dtype = v.Schema().Dimensions, v.Schema().Dtype
		updateFn = func(data any) error {
			idx := full_indexers(dims)
			sub, err := v.Subset(idx...)
			if err != nil {
				return err
			}
			return sub.Update(ctx, data)
		}
	} else {
		mgr, err := coll.Arrays()
		if err != nil {
			return err
		}
		a, err := mgr.Create(ctx, primary, custom)
		if err != nil {
			return err
		}
		dims, dtype = a.Schema().Dimensions, a.Schema().Dtype
		updateFn = func(data any) error {
			idx := full_indexers(dims)
			sub, err := a.Subset(idx...)
			if err != nil {
				return err
			}
			return sub.Update(ctx, data)
		}
	}

	data, err := load_data_file(dataPath, dtype)
	if err != nil {
		return fmt.Errorf("reading --data: %w", err)
	}
	dlog.Info("writing array data:", dataPath)
	return updateFn(data)
}

func full_indexers(dims []schema.Dimension) []slicer.Indexer {
	idx := make([]slicer.Indexer, len(dims))
	for i := range dims {
		idx[i] = slicer.Indexer{Kind: slicer.KindFull}
	}
	return idx
}

func load_data_file(path string, dtype schema.Dtype) (any, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch dtype {
	case schema.DtypeInt64:
		var vals []int64
		return vals, json.Unmarshal(blob, &vals)
	default:
		var vals []float64
		return vals, json.Unmarshal(blob, &vals)
	}
}

func get_array(root, collectionName, primaryJSON string) error {
	var primary map[string]any
	if primaryJSON != "" {
		if err := json.Unmarshal([]byte(primaryJSON), &primary); err != nil {
			return fmt.Errorf("parsing --primary: %w", err)
		}
	}

	client, err := open_client(root)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()
	coll, err := client.OpenCollection(ctx, collectionName)
	if err != nil {
		return err
	}

	var data any
	if coll.IsVArray() {
		mgr, err := coll.VArrays()
		if err != nil {
			return err
		}
		filtered, err := mgr.Filter(ctx, primary)
		if err != nil {
			return err
		}
		v, ok := filtered.First()
		if !ok {
			return fmt.Errorf("no varray matches %s", primaryJSON)
		}
		sub, err := v.Subset(full_indexers(v.Schema().Dimensions)...)
		if err != nil {
			return err
		}
		if data, err = sub.Read(ctx); err != nil {
			return err
		}
	} else {
		mgr, err := coll.Arrays()
		if err != nil {
			return err
		}
		filtered, err := mgr.Filter(ctx, primary)
		if err != nil {
			return err
		}
		a, ok := filtered.First()
		if !ok {
			return fmt.Errorf("no array matches %s", primaryJSON)
		}
		sub, err := a.Subset(full_indexers(a.Schema().Dimensions)...)
		if err != nil {
			return err
		}
		if data, err = sub.Read(ctx); err != nil {
			return err
		}
	}

	out, err := json.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func check_integrity_cmd(root string, level int, collectionName, reportPath string) error {
	client, err := open_client(root)
	if err != nil {
		return err
	}
	defer client.Close()

	checker := integrity.NewChecker(client)
	report, err := checker.Check(context.Background(), integrity.Level(level), collectionName, false)
	if err != nil {
		return err
	}
	fmt.Println(report.String())
	if reportPath != "" {
		if werr := os.WriteFile(reportPath, []byte(report.String()), 0o644); werr != nil {
			return werr
		}
	}
	if !report.Empty() {
		return cli.Exit("integrity check found issues", 1)
	}
	return nil
}

func list_locks(root, collectionName string) error {
	roots := []string{
		filepath.Join(root, deker.DefaultCollectionsDir),
		filepath.Join(root, deker.DefaultArrayDataDir),
		filepath.Join(root, deker.DefaultVArrayDataDir),
	}
	suffixes := []string{".lock", ".arrlock", ".arrayreadlock", ".varraylock"}
	for _, base := range roots {
		dir := base
		if collectionName != "" {
			dir = filepath.Join(base, collectionName)
		}
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
			for _, suf := range suffixes {
				if strings.HasSuffix(path, suf) {
					fmt.Println(path)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func main() {
	app := &cli.App{
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn, error, or off."},
		},
		Before: func(cCtx *cli.Context) error {
			logLevel = cCtx.String("log-level")
			return nil
		},
		Commands: []*cli.Command{
			{
				Name: "create-collection",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "root", Usage: "Storage root directory.", Required: true},
					&cli.StringFlag{Name: "name", Usage: "Collection name.", Required: true},
					&cli.StringFlag{Name: "schema", Usage: "Path to a schema JSON file.", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					return create_collection(cCtx.String("root"), cCtx.String("name"), cCtx.String("schema"))
				},
			},
			{
				Name: "put",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "root", Required: true},
					&cli.StringFlag{Name: "collection", Required: true},
					&cli.StringFlag{Name: "primary", Usage: "JSON object of primary attribute values."},
					&cli.StringFlag{Name: "custom", Usage: "JSON object of custom attribute values."},
					&cli.StringFlag{Name: "data", Usage: "Path to a JSON array of cell values.", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					return put_array(cCtx.String("root"), cCtx.String("collection"), cCtx.String("primary"), cCtx.String("custom"), cCtx.String("data"))
				},
			},
			{
				Name: "get",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "root", Required: true},
					&cli.StringFlag{Name: "collection", Required: true},
					&cli.StringFlag{Name: "primary", Usage: "JSON object of primary attribute values identifying the array."},
				},
				Action: func(cCtx *cli.Context) error {
					return get_array(cCtx.String("root"), cCtx.String("collection"), cCtx.String("primary"))
				},
			},
			{
				Name: "check-integrity",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "root", Required: true},
					&cli.IntFlag{Name: "level", Value: 4, Usage: "1=collections .. 4=data."},
					&cli.StringFlag{Name: "collection", Usage: "Limit the check to one collection."},
					&cli.StringFlag{Name: "report", Usage: "Optional path to also write the report to."},
				},
				Action: func(cCtx *cli.Context) error {
					return check_integrity_cmd(cCtx.String("root"), cCtx.Int("level"), cCtx.String("collection"), cCtx.String("report"))
				},
			},
			{
				Name: "locks",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "root", Required: true},
					&cli.StringFlag{Name: "collection", Usage: "Limit the listing to one collection."},
				},
				Action: func(cCtx *cli.Context) error {
					return list_locks(cCtx.String("root"), cCtx.String("collection"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		dlog.Error(err)
		os.Exit(1)
	}
}
