package config

import (
	"fmt"
	"regexp"
	"time"

	"wabot/internal/command"
)

// Spec compiles the command section into a parser spec. Literal prefixes
// are tried before patterns, in the order configured.
func (c CommandConfig) Spec() (command.Spec, error) {
	spec := command.Literals(c.Prefixes...)
	if len(c.Patterns) > 0 {
		res := make([]*regexp.Regexp, 0, len(c.Patterns))
		for _, p := range c.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return command.Spec{}, fmt.Errorf("bad command pattern %q: %w", p, err)
			}
			res = append(res, re)
		}
		spec = spec.Merge(command.Patterns(res...))
	}
	spec.NoPrefix = c.NoPrefix
	return spec, nil
}

// FetchTimeout returns the media fetch timeout as a duration.
func (m MediaConfig) FetchTimeout() time.Duration {
	return time.Duration(m.FetchTimeoutSeconds) * time.Second
}
