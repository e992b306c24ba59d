package sources

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Allowlist is the set of content domains accepted for secondary-provenance
// records, which carry no bibliographic metadata to validate instead.
type Allowlist struct {
	domains []string
}

type domainsFile struct {
	AllowedDomains []string `yaml:"allowed_domains"`
}

// builtInDomains is used when no domains file is configured or readable.
var builtInDomains = []string{
	"edu",
	"gov",
	"arxiv.org",
	"acm.org",
	"ieee.org",
	"nature.com",
	"science.org",
	"springer.com",
	"sciencedirect.com",
	"wikipedia.org",
	"nih.gov",
	"jstor.org",
}

// LoadAllowlist reads the yaml allowlist at path, falling back to the
// built-in list when path is empty or unreadable.
func LoadAllowlist(path string) *Allowlist {
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var f domainsFile
			if err := yaml.Unmarshal(data, &f); err == nil && len(f.AllowedDomains) > 0 {
				return &Allowlist{domains: normalizeDomains(f.AllowedDomains)}
			}
		}
	}
	return &Allowlist{domains: normalizeDomains(builtInDomains)}
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, ".")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Allowed reports whether host matches an allowlisted domain, on label
// boundaries (cs.example.edu matches "edu" and "example.edu", not "le.edu").
func (a *Allowlist) Allowed(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	for _, d := range a.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
