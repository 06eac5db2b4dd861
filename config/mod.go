// Package config defines the domain file of a fedchain process. The file is
// written in YAML and every value can be overridden by the start flag of the
// same name.
//
//	role: provider
//	name: provider-a
//	ledger: http://127.0.0.1:8080
//	endpoint: 192.168.1.2:8080
//	price: 10
//	kubeconfig: /home/op/.kube/config
//	namespace: federation
//	catalog: workloads
//	timing: timings/provider.csv
package config

import (
	"os"
	"path/filepath"
	"time"

	"go.dedis.ch/fedchain/cli"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// Names of the start flags read by FromFlags.
const (
	DomainFlag     = "domain"
	RoleFlag       = "role"
	LedgerFlag     = "ledger"
	KeyFlag        = "key"
	KubeconfigFlag = "kubeconfig"
	NamespaceFlag  = "namespace"
	CatalogFlag    = "catalog"
)

// DefaultKey is the file of the private key, inside the configuration folder,
// when the domain does not name one.
const DefaultKey = "private.key"

// Domain is the content of a domain file.
type Domain struct {
	Role   string `yaml:"role"`
	Name   string `yaml:"name"`
	Ledger string `yaml:"ledger"`
	Key    string `yaml:"key"`

	Endpoint     string        `yaml:"endpoint"`
	Requirements string        `yaml:"requirements"`
	Price        uint64        `yaml:"price"`
	Strategy     string        `yaml:"strategy"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	Probe        Probe         `yaml:"probe"`

	Kubeconfig string        `yaml:"kubeconfig"`
	Namespace  string        `yaml:"namespace"`
	Catalog    string        `yaml:"catalog"`
	Ready      time.Duration `yaml:"ready"`

	Timing string `yaml:"timing"`
}

// Probe is the connectivity check of the consumer.
type Probe struct {
	Port     string        `yaml:"port"`
	Path     string        `yaml:"path"`
	Attempts int           `yaml:"attempts"`
	Wait     time.Duration `yaml:"wait"`
}

// Load reads the domain file at the path. An empty path is an empty domain.
func Load(path string) (Domain, error) {
	var domain Domain

	if path == "" {
		return domain, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain, xerrors.Errorf("failed to read file: %v", err)
	}

	err = yaml.UnmarshalStrict(data, &domain)
	if err != nil {
		return domain, xerrors.Errorf("failed to decode: %v", err)
	}

	return domain, nil
}

// FromFlags loads the domain file of the flags and applies the flags that are
// set on top of it.
func FromFlags(flags cli.Flags) (Domain, error) {
	domain, err := Load(flags.Path(DomainFlag))
	if err != nil {
		return domain, xerrors.Errorf("domain '%s': %v", flags.Path(DomainFlag), err)
	}

	override(&domain.Role, flags.String(RoleFlag))
	override(&domain.Ledger, flags.String(LedgerFlag))
	override(&domain.Key, flags.Path(KeyFlag))
	override(&domain.Kubeconfig, flags.Path(KubeconfigFlag))
	override(&domain.Namespace, flags.String(NamespaceFlag))
	override(&domain.Catalog, flags.Path(CatalogFlag))

	return domain, nil
}

// Resolve returns the path relative to the folder, unless it is absolute.
func Resolve(folder, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(folder, path)
}

func override(field *string, value string) {
	if value != "" {
		*field = value
	}
}
