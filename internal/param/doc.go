// Package param declares typed module parameters and the ordered forms that
// group them.
//
// A Parameter validates and coerces raw values (usually decoded from JSON or
// YAML) into its canonical Go type: int, float64, string, bool or
// map[string]string. Forms resolve instance values against defaults.
package param
