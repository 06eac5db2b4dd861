package cli

import "time"

// StringFlag defines a flag parsed as a string.
//
// - implements cli.Flag
type StringFlag struct {
	Name     string
	Usage    string
	Required bool
	Value    string
}

// Key implements cli.Flag.
func (f StringFlag) Key() string {
	return f.Name
}

// StringSliceFlag defines a flag that can be repeated, parsed as a list of
// strings. The URL of a ledger or the endpoints of a domain are typical
// values.
//
// - implements cli.Flag
type StringSliceFlag struct {
	Name     string
	Usage    string
	Required bool
	Value    []string
}

// Key implements cli.Flag.
func (f StringSliceFlag) Key() string {
	return f.Name
}

// DurationFlag defines a flag parsed as a duration, like the timeout of a
// federation run.
//
// - implements cli.Flag
type DurationFlag struct {
	Name     string
	Usage    string
	Required bool
	Value    time.Duration
}

// Key implements cli.Flag.
func (f DurationFlag) Key() string {
	return f.Name
}

// IntFlag defines a flag parsed as an integer.
//
// - implements cli.Flag
type IntFlag struct {
	Name     string
	Usage    string
	Required bool
	Value    int
}

// Key implements cli.Flag.
func (f IntFlag) Key() string {
	return f.Name
}

// BoolFlag defines a switch.
//
// - implements cli.Flag
type BoolFlag struct {
	Name     string
	Usage    string
	Required bool
	Value    bool
}

// Key implements cli.Flag.
func (f BoolFlag) Key() string {
	return f.Name
}
