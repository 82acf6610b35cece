package filter

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type rawSelector struct {
	Field string  `yaml:"field"`
	Data  string  `yaml:"data"`
	Value *string `yaml:"value"`
}

type rawSpec struct {
	Combine    string        `yaml:"combine"`
	IgnoreCase bool          `yaml:"ignore_case"`
	Selectors  []rawSelector `yaml:"selectors"`
}

// LoadSpecYAML parses a filter file:
//
//	combine: and
//	ignore_case: false
//	selectors:
//	  - field: EventID
//	    value: "4624"
//	  - data: TargetUserName
//	    value: bob
func LoadSpecYAML(b []byte) (Spec, error) {
	var raw rawSpec
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return Spec{}, nil
		}
		return Spec{}, errors.Wrap(err, "parse filter")
	}

	combine, err := ParseCombine(raw.Combine)
	if err != nil {
		return Spec{}, err
	}
	spec := Spec{Combine: combine, IgnoreCase: raw.IgnoreCase}
	for i, rs := range raw.Selectors {
		if rs.Value == nil {
			return Spec{}, errors.Errorf("selector %d: missing value", i)
		}
		switch {
		case rs.Field != "" && rs.Data != "":
			return Spec{}, errors.Errorf("selector %d: set either field or data, not both", i)
		case rs.Field != "":
			kind, err := ParseFieldKind(rs.Field)
			if err != nil {
				return Spec{}, errors.Wrapf(err, "selector %d", i)
			}
			spec.Selectors = append(spec.Selectors, SystemField(kind, *rs.Value))
		case strings.TrimSpace(rs.Data) != "":
			spec.Selectors = append(spec.Selectors, DataField(strings.TrimSpace(rs.Data), *rs.Value))
		default:
			return Spec{}, errors.Errorf("selector %d: needs field or data", i)
		}
	}
	return spec, spec.Validate()
}

// LoadSpecFile reads and parses a filter file. A directory is walked
// recursively and every YAML file in it merged in path order; Combine and
// IgnoreCase come from the first file.
func LoadSpecFile(path string) (Spec, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Spec{}, errors.Wrapf(err, "read filter %s", path)
	}
	if st.IsDir() {
		return loadSpecDir(path)
	}
	return loadSpecFile(path)
}

func isYAML(p string) bool {
	l := strings.ToLower(p)
	return strings.HasSuffix(l, ".yml") || strings.HasSuffix(l, ".yaml")
}

func loadSpecDir(root string) (Spec, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isYAML(p) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return Spec{}, errors.Wrapf(err, "walk filters %s", root)
	}
	sort.Strings(paths)

	var out Spec
	for i, p := range paths {
		spec, err := loadSpecFile(p)
		if err != nil {
			return Spec{}, err
		}
		if i == 0 {
			out = spec
			continue
		}
		out = out.Merge(spec)
	}
	return out, nil
}

func loadSpecFile(path string) (Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, errors.Wrapf(err, "read filter %s", path)
	}
	spec, err := LoadSpecYAML(b)
	if err != nil {
		return Spec{}, errors.Wrapf(err, "filter %s", path)
	}
	return spec, nil
}
