package artifact

import (
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"evochora/internal/molecule"
	"evochora/internal/world"
)

// document is the on-disk shape of a ProgramArtifact, mirroring its
// exported fields. objectCoords is carried explicitly alongside
// InitialObjects rather than re-derived from map keys on load.
type document struct {
	BuildID          string                   `yaml:"build_id"`
	Dims             int                      `yaml:"dims"`
	InitialObjects   map[string]uint64        `yaml:"initial_objects"`
	ObjectCoords     map[string][]int32       `yaml:"object_coords"`
	StartPoints      []StartPoint             `yaml:"start_points"`
	SourceMap        map[string]SourcePos     `yaml:"source_map"`
	CallSiteBindings map[string][]CallBinding `yaml:"call_site_bindings,omitempty"`
	TokenMap         map[string]string        `yaml:"token_map,omitempty"`
}

// WriteYAML serializes the artifact and writes it to path.
func (a *ProgramArtifact) WriteYAML(path string) error {
	doc := document{
		BuildID:          a.BuildID.String(),
		Dims:             a.Dims,
		InitialObjects:   make(map[string]uint64, len(a.InitialObjects)),
		ObjectCoords:     make(map[string][]int32, len(a.objectCoords)),
		StartPoints:      a.StartPoints,
		SourceMap:        a.SourceMap,
		CallSiteBindings: a.CallSiteBindings,
		TokenMap:         a.TokenMap,
	}
	for k, m := range a.InitialObjects {
		doc.InitialObjects[k] = uint64(m)
	}
	for k, c := range a.objectCoords {
		doc.ObjectCoords[k] = []int32(c)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "artifact: marshal")
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrapf(err, "artifact: writing %s", path)
	}
	return nil
}

// ReadYAML loads an artifact previously written by WriteYAML.
func ReadYAML(path string) (*ProgramArtifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "artifact: reading %s", path)
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "artifact: unmarshal %s", path)
	}

	a := New(doc.Dims)
	id, err := uuid.Parse(doc.BuildID)
	if err != nil {
		return nil, errors.Wrapf(err, "artifact %s: bad build id %q", path, doc.BuildID)
	}
	a.BuildID = id
	a.StartPoints = doc.StartPoints
	a.SourceMap = doc.SourceMap
	a.CallSiteBindings = doc.CallSiteBindings
	a.TokenMap = doc.TokenMap
	for k, v := range doc.InitialObjects {
		a.InitialObjects[k] = molecule.Word(v)
	}
	for k, c := range doc.ObjectCoords {
		a.objectCoords[k] = world.Coord(c)
	}
	return a, nil
}
