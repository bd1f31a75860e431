// Package logx is a small value-type logger over zerolog.
//
// Components take a Logger and tag it with With(String("comp", ...)). The
// Service behind the root logger can swap level and sinks at runtime, which
// is how config reloads change logging without restarting anything.
package logx
