package content

import (
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"
)

// ImportFile is the YAML document accepted by `narrator content import`:
//
//	items:
//	  - id: 1
//	    title: Rooted in Grace
//	    teaching: ...
type ImportFile struct {
	Items []Item `yaml:"items"`
}

// DecodeYAML reads items from r. Unknown keys are rejected and ids must be
// positive and unique.
func DecodeYAML(r io.Reader) ([]Item, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f ImportFile
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode content yaml: %w", err)
	}
	seen := make(map[int64]struct{}, len(f.Items))
	for i, it := range f.Items {
		if it.ID <= 0 {
			return nil, fmt.Errorf("item %d: id must be positive", i)
		}
		if _, dup := seen[it.ID]; dup {
			return nil, fmt.Errorf("item %d: duplicate id %d", i, it.ID)
		}
		seen[it.ID] = struct{}{}
	}
	return f.Items, nil
}
