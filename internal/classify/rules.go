// Package classify selects the important files of a repository tree
// using a fixed, ordered rule set, and reads their content.
package classify

import (
	"github.com/gobwas/glob"
)

// RuleSetVersion identifies the built-in rule set. Bump it whenever the
// default rules change, so consumers can detect a selection drift.
const RuleSetVersion = "v1"

// Rule matches repository paths against a named category. Patterns use
// glob syntax with '/' as the separator, so a '*' never crosses a
// directory boundary.
type Rule struct {
	ID       string
	patterns []glob.Glob
}

// Matches reports whether the path satisfies any of the rule's patterns.
func (r Rule) Matches(path string) bool {
	for _, p := range r.patterns {
		if p.Match(path) {
			return true
		}
	}
	return false
}

func newRule(id string, patterns ...string) Rule {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, glob.MustCompile(p, '/'))
	}
	return Rule{ID: id, patterns: compiled}
}

// DefaultRules returns the built-in ordered rule set. Order is
// priority: a file is claimed by the first rule it matches.
func DefaultRules() []Rule {
	return []Rule{
		newRule("manifest",
			"go.mod",
			"package.json",
			"Cargo.toml",
			"pyproject.toml",
			"setup.py",
			"setup.cfg",
			"requirements*.txt",
			"pom.xml",
			"build.gradle",
			"build.gradle.kts",
			"Gemfile",
			"composer.json",
		),
		newRule("readme",
			"README",
			"README.*",
		),
		newRule("lockfile",
			"go.sum",
			"package-lock.json",
			"yarn.lock",
			"pnpm-lock.yaml",
			"Cargo.lock",
			"poetry.lock",
			"Pipfile.lock",
			"Gemfile.lock",
			"composer.lock",
		),
		newRule("ci",
			".github/workflows/*.yml",
			".github/workflows/*.yaml",
			".gitlab-ci.yml",
			".circleci/config.yml",
			"Jenkinsfile",
			".travis.yml",
			"azure-pipelines.yml",
		),
		newRule("security",
			"SECURITY.md",
			"SECURITY",
			".pre-commit-config.yaml",
			"CODEOWNERS",
			".github/CODEOWNERS",
		),
		newRule("container",
			"Dockerfile",
			"Dockerfile.*",
			"Containerfile",
			"docker-compose.yml",
			"docker-compose.yaml",
			"docker-compose.*.yml",
			"docker-compose.*.yaml",
		),
		newRule("license",
			"LICENSE",
			"LICENSE.*",
			"COPYING",
			"NOTICE",
		),
	}
}
