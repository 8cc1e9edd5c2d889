// Package host provides the concrete host capabilities the interpreter
// acts through: process enumeration and signalling, startup artifact
// manipulation, and delayed power control.
package host
