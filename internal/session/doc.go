// Package session tracks which live connections belong to which user and
// fans stream events out to all of them.
package session
