// Package flagx holds pflag helpers used to layer command-line flags over
// other configuration sources.
package flagx

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Replay copies every flag explicitly set on src onto dst, by name. Flags
// that dst does not define are skipped. Unset flags are left alone, so
// values dst already holds (defaults, file settings) survive.
func Replay(src, dst *pflag.FlagSet) error {
	var err error
	src.Visit(func(f *pflag.Flag) {
		if err != nil || dst.Lookup(f.Name) == nil {
			return
		}
		if setErr := dst.Set(f.Name, f.Value.String()); setErr != nil {
			err = fmt.Errorf("flag --%s: %w", f.Name, setErr)
		}
	})
	return err
}

// ChangedNames lists the flags explicitly set on fs.
func ChangedNames(fs *pflag.FlagSet) []string {
	var names []string
	fs.Visit(func(f *pflag.Flag) { names = append(names, f.Name) })
	return names
}
