package orchestrator

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"
)

// Catalog is the set of the workloads a domain can deploy, by name.
type Catalog map[string]Spec

// Get returns the workload of the given name.
func (c Catalog) Get(name string) (Spec, bool) {
	spec, found := c[name]
	return spec, found
}

// Names returns the names of the workloads in order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// LoadCatalog reads the manifests of a folder. Each YAML file is a workload
// named after the file.
func LoadCatalog(dir string) (Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Errorf("failed to read folder: %v", err)
	}

	catalog := make(Catalog)

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, xerrors.Errorf("failed to read manifest: %v", err)
		}

		name := strings.TrimSuffix(entry.Name(), ext)

		spec, err := ParseManifest(name, data)
		if err != nil {
			return nil, xerrors.Errorf("manifest '%s': %v", entry.Name(), err)
		}

		catalog[name] = spec
	}

	return catalog, nil
}

// ParseManifest returns the workload described by the manifest, which is one
// or more YAML documents separated by "---".
func ParseManifest(name string, manifest []byte) (Spec, error) {
	spec := Spec{Name: name}

	for _, doc := range splitDocuments(string(manifest)) {
		res, err := parseResource([]byte(doc))
		if err != nil {
			return spec, err
		}

		spec.Resources = append(spec.Resources, res)
	}

	if len(spec.Resources) == 0 {
		return spec, xerrors.New("manifest is empty")
	}

	return spec, nil
}

func parseResource(doc []byte) (Resource, error) {
	var meta struct {
		Kind string `json:"kind"`
	}

	err := yaml.Unmarshal(doc, &meta)
	if err != nil {
		return nil, xerrors.Errorf("invalid document: %v", err)
	}

	var res Resource

	switch meta.Kind {
	case "Pod":
		obj := &corev1.Pod{}
		err = yaml.UnmarshalStrict(doc, obj)
		res = Pod{Pod: obj}
	case "Service":
		obj := &corev1.Service{}
		err = yaml.UnmarshalStrict(doc, obj)
		res = Service{Service: obj}
	case "Deployment":
		obj := &appsv1.Deployment{}
		err = yaml.UnmarshalStrict(doc, obj)
		res = Deployment{Deployment: obj}
	default:
		return nil, xerrors.Errorf("unsupported kind '%s'", meta.Kind)
	}

	if err != nil {
		return nil, xerrors.Errorf("invalid %s: %v", meta.Kind, err)
	}

	if res.Name() == "" {
		return nil, xerrors.Errorf("%s without a name", meta.Kind)
	}

	return res, nil
}

func splitDocuments(input string) []string {
	var docs []string

	for _, part := range strings.Split(input, "\n---") {
		trimmed := strings.TrimSpace(strings.TrimPrefix(part, "---"))
		if trimmed != "" {
			docs = append(docs, trimmed)
		}
	}

	return docs
}
