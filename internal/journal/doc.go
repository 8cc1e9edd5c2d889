// Package journal records executed commands in a local SQLite database
// so an operator can reconstruct what the agent did and when.
package journal
