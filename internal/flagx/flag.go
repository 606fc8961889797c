// Package flagx lets several configuration layers share os.Args, each
// parsing only the flags it owns.
package flagx

import (
	"flag"
	"strings"
)

// Spec names the flags a layer owns. Bool flags never take the following
// argument as their value; they can only be set with "-x" or "-x=false".
type Spec struct {
	Value []string
	Bool  []string
}

func flagName(arg string) string {
	name, _, _ := strings.Cut(arg, "=")
	return name
}

// FilterArgs keeps only the flags named in spec, with their values.
//
// Accepted forms: "-a value", "-a=value", "--a value" and "--a=value" when
// the double-dash name is listed. The result is never nil.
func FilterArgs(args []string, spec Spec) []string {
	kind := make(map[string]bool, len(spec.Value)+len(spec.Bool))
	for _, f := range spec.Value {
		kind[f] = false
	}
	for _, f := range spec.Bool {
		kind[f] = true
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		isBool, ok := kind[flagName(arg)]
		if !ok {
			continue
		}
		filtered = append(filtered, arg)

		if isBool || strings.Contains(arg, "=") {
			continue
		}
		// a value flag consumes the next argument unless it is another flag
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

// ConfigPath returns the JSON config file named by -c or -config in args,
// or "" when neither is present.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "Path to config file")
	fs.StringVar(&path, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(args, Spec{Value: []string{"-c", "-config"}}))

	return path
}
