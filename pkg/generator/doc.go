// Package generator produces synthetic filesystem activity.
//
// A Generator runs an unbounded sequence of cycles against a single working
// directory. Each cycle creates file_<unix seconds>.txt with one line, appends
// a second line, then deletes it, pausing a fixed interval after every step.
// At most one target file exists at any instant. A file that is already gone
// at deletion time is ignored; every other filesystem error ends Run.
package generator
