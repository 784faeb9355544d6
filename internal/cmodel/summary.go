// summary.go - 数据库摘要
package cmodel

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/tangzhangming/solatrans/internal/gcpolicy"
	"github.com/tangzhangming/solatrans/internal/rffi"
)

// TypeSummary 一个类型定义
type TypeSummary struct {
	Name     string           `yaml:"name"`
	Kind     string           `yaml:"kind"`
	GCHeader string           `yaml:"gc_header,omitempty"`
	Fields   []FieldDef       `yaml:"fields,omitempty"`
	Item     string           `yaml:"item,omitempty"`
	GC       *gcpolicy.GCInfo `yaml:"gc,omitempty"`
}

// Summary 数据库摘要：供调试与测试比对
type Summary struct {
	GCPolicy   string                        `yaml:"gc_policy"`
	Types      []TypeSummary                 `yaml:"types"`
	Containers []string                      `yaml:"containers"`
	Functions  []string                      `yaml:"functions"`
	External   []string                      `yaml:"external,omitempty"`
	Startup    []string                      `yaml:"startup,omitempty"`
	ECI        *rffi.ExternalCompilationInfo `yaml:"eci,omitempty"`
}

// Summary 生成摘要；数据库须已 Complete
func (db *Database) Summary() (*Summary, error) {
	if !db.complete {
		return nil, fmt.Errorf("database is not complete")
	}
	s := &Summary{
		GCPolicy: db.gc.Name(),
		External: db.ExternalFunctions(),
		Startup:  db.StartupCode(),
	}
	for _, def := range db.defOrder {
		s.Types = append(s.Types, summarizeDef(def))
	}
	for _, c := range db.contOrder {
		s.Containers = append(s.Containers, c.Name)
	}
	for _, f := range db.funcOrder {
		s.Functions = append(s.Functions, f.Name)
	}
	if eci := db.CompilationInfo(); !eci.IsEmpty() {
		s.ECI = eci
	}
	return s, nil
}

func summarizeDef(def gcpolicy.DefNode) TypeSummary {
	switch n := def.(type) {
	case *StructDefNode:
		ts := TypeSummary{Name: n.CName, Kind: "struct", Fields: n.Fields, GC: n.GCInfo}
		if n.GCHeader != nil {
			ts.GCHeader = n.GCHeader.Name
		}
		return ts
	case *ArrayDefNode:
		ts := TypeSummary{Name: n.CName, Kind: "array", Item: n.ItemType, GC: n.GCInfo}
		if n.GCHeader != nil {
			ts.GCHeader = n.GCHeader.Name
		}
		return ts
	case *FixedArrayDefNode:
		return TypeSummary{Name: n.CName, Kind: "fixedarray", Item: n.ItemType}
	case *OpaqueDefNode:
		return TypeSummary{Name: n.CName, Kind: "opaque", GC: n.GCInfo}
	}
	return TypeSummary{Name: defCName(def), Kind: "unknown"}
}

// WriteYAML 把摘要写成 YAML
func (db *Database) WriteYAML(w io.Writer) error {
	s, err := db.Summary()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode database summary: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close database summary: %w", err)
	}
	return nil
}
