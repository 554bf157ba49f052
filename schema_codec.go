package deker

import (
	"fmt"
	"time"

	"github.com/openweathermap/deker-go/internal/metaio"
	"github.com/openweathermap/deker-go/schema"
	"github.com/samber/lo"
)

// arraySchemaMeta / varraySchemaMeta / arraySchemaFromMeta /
// varraySchemaFromMeta translate between the validated in-memory schema
// types and their JSON projection, the Go counterpart of collection.py's
// as_dict/from_dict round trip through schemas.py's dataclasses.

func dimensionMeta(d schema.Dimension) metaio.DimensionMeta {
	switch dd := d.(type) {
	case schema.TimeDimensionSchema:
		m := metaio.DimensionMeta{
			Name: dd.Name,
			Size: dd.Size,
			Type: "time",
			Step: metaio.DurationStep(dd.Step),
		}
		if s, ok := dd.StartValue.(string); ok {
			m.StartValue = s
		} else if t, ok := dd.StartValue.(time.Time); ok {
			m.StartValue = t.UTC().Format(time.RFC3339Nano)
		}
		return m
	case schema.DimensionSchema:
		m := metaio.DimensionMeta{Name: dd.Name, Size: dd.Size, Type: "generic"}
		if dd.Labels != nil {
			m.Labels = lo.Map(lo.Range(dd.Labels.Len()), func(i, _ int) string {
				v, _ := dd.Labels.IndexToName(i)
				return fmt.Sprint(v)
			})
		}
		if dd.Scale != nil {
			m.Scale = &metaio.ScaleMeta{StartValue: dd.Scale.StartValue, Step: dd.Scale.Step, Name: dd.Scale.Name}
		}
		return m
	default:
		return metaio.DimensionMeta{Name: d.DimName(), Size: d.DimSize(), Type: "generic"}
	}
}

func dimensionFromMeta(m metaio.DimensionMeta) (schema.Dimension, error) {
	if m.Type == "time" {
		step, err := metaio.ParseDurationStep(m.Step)
		if err != nil {
			return nil, err
		}
		return schema.NewTimeDimensionSchema(m.Name, m.Size, step, m.StartValue)
	}
	var labels *schema.Labels
	if len(m.Labels) > 0 {
		vals := make([]any, len(m.Labels))
		for i, l := range m.Labels {
			vals[i] = l
		}
		l, err := schema.NewLabels(vals)
		if err != nil {
			return nil, err
		}
		labels = &l
	}
	var scale *schema.Scale
	if m.Scale != nil {
		scale = &schema.Scale{StartValue: m.Scale.StartValue, Step: m.Scale.Step, Name: m.Scale.Name}
	}
	return schema.NewDimensionSchema(m.Name, m.Size, labels, scale)
}

func attributeMeta(a schema.AttributeSchema) metaio.AttributeMeta {
	return metaio.AttributeMeta{Name: a.Name, Dtype: a.Dtype.String(), Primary: a.Primary}
}

func attributeFromMeta(m metaio.AttributeMeta) (schema.AttributeSchema, error) {
	dt, err := schema.ParseDtype(m.Dtype)
	if err != nil {
		return schema.AttributeSchema{}, err
	}
	return schema.NewAttributeSchema(m.Name, dt, m.Primary)
}

func arraySchemaMeta(as schema.ArraySchema) metaio.SchemaMeta {
	m := metaio.SchemaMeta{Dtype: as.Dtype.String()}
	for _, d := range as.Dimensions {
		m.Dimensions = append(m.Dimensions, dimensionMeta(d))
	}
	for _, a := range as.Attributes {
		m.Attributes = append(m.Attributes, attributeMeta(a))
	}
	if as.FillValue != nil {
		m.FillValue = &metaio.AttrValue{Value: as.FillValue}
	}
	return m
}

func arraySchemaFromMeta(m metaio.SchemaMeta) (schema.ArraySchema, error) {
	dt, err := schema.ParseDtype(m.Dtype)
	if err != nil {
		return schema.ArraySchema{}, err
	}
	dims := make([]schema.Dimension, len(m.Dimensions))
	for i, dm := range m.Dimensions {
		d, err := dimensionFromMeta(dm)
		if err != nil {
			return schema.ArraySchema{}, err
		}
		dims[i] = d
	}
	attrs := make([]schema.AttributeSchema, len(m.Attributes))
	for i, am := range m.Attributes {
		a, err := attributeFromMeta(am)
		if err != nil {
			return schema.ArraySchema{}, err
		}
		attrs[i] = a
	}
	var fill any
	if m.FillValue != nil {
		fill = m.FillValue.Value
	}
	return schema.NewArraySchema(dims, dt, fill, attrs)
}

func varraySchemaMeta(vs schema.VArraySchema) metaio.SchemaMeta {
	m := metaio.SchemaMeta{Dtype: vs.Dtype.String(), VGrid: vs.VGrid}
	for _, d := range vs.Dimensions {
		m.Dimensions = append(m.Dimensions, dimensionMeta(d))
	}
	for _, a := range vs.Attributes {
		m.Attributes = append(m.Attributes, attributeMeta(a))
	}
	if vs.FillValue != nil {
		m.FillValue = &metaio.AttrValue{Value: vs.FillValue}
	}
	return m
}

func varraySchemaFromMeta(m metaio.SchemaMeta) (schema.VArraySchema, error) {
	dt, err := schema.ParseDtype(m.Dtype)
	if err != nil {
		return schema.VArraySchema{}, err
	}
	dims := make([]schema.Dimension, len(m.Dimensions))
	for i, dm := range m.Dimensions {
		d, err := dimensionFromMeta(dm)
		if err != nil {
			return schema.VArraySchema{}, err
		}
		dims[i] = d
	}
	attrs := make([]schema.AttributeSchema, len(m.Attributes))
	for i, am := range m.Attributes {
		a, err := attributeFromMeta(am)
		if err != nil {
			return schema.VArraySchema{}, err
		}
		attrs[i] = a
	}
	var fill any
	if m.FillValue != nil {
		fill = m.FillValue.Value
	}
	return schema.NewVArraySchema(dims, dt, fill, attrs, m.VGrid)
}
