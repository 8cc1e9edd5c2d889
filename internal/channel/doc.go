// Package channel defines the message and transport contract shared by the
// agent core and the concrete chat client implementation.
package channel
