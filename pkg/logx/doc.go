// Package logx is narrator's structured logging, a thin layer over zerolog.
//
// Console output is short and human readable unless format=json; file output
// is always JSON. A Service can swap level and sinks at runtime, which the
// config hot reload relies on.
package logx
