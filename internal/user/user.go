// Package user implements the user table, login, and the resource access
// policy of the kernel's permission model. It has no dependency on process
// or filesystem state so it can be unit tested in isolation, the same way
// the original kernel's user.c logic is self-contained apart from its calls
// into process/FD state for switch_user's cosmetic side effects.
package user

import (
	"fmt"
	"strings"
)

const (
	// MaxUsers bounds the user table (spec: up to 8 users in /prot/passwd).
	MaxUsers = 8

	// MaxFieldLen bounds name/password length, excluding terminator.
	MaxFieldLen = 31

	// Root is the superuser UID.
	Root = 0
)

// Kind distinguishes public resources from owner-scoped ones.
type Kind int

const (
	Public Kind = iota
	Protected
)

// Resource is the (owner_uid, kind) guard described in spec §3.
type Resource struct {
	OwnerUID int
	Kind     Kind
}

// SystemResource gates reboot, shutdown, and any future privileged
// operation, per spec §4.5.
var SystemResource = Resource{OwnerUID: Root, Kind: Protected}

// AccessOK implements the permission policy: PUBLIC is always granted;
// PROTECTED is granted iff the requester is the owner or is root.
func AccessOK(uid int, r Resource) bool {
	if r.Kind == Public {
		return true
	}
	return uid == r.OwnerUID || uid == Root
}

// entry is one row of the user table.
type entry struct {
	name     string
	password string
	valid    bool
}

// Table is the UID-indexed user table loaded from /prot/passwd.
type Table struct {
	rows [MaxUsers]entry
}

// NewTable returns an empty table (all rows invalid).
func NewTable() *Table {
	return &Table{}
}

// Load parses alternating name/password lines into the table, mirroring
// load_users: every row is marked invalid first, then filled in order. Any
// malformed input (odd number of lines, overlong field, or more
// than MaxUsers rows) is rejected and the table left untouched, matching the
// original's all-or-nothing parse.
func (t *Table) Load(text string) (int, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	// Trim one trailing blank line from a file ending in '\n'.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines)%2 != 0 {
		return 0, fmt.Errorf("user: malformed passwd file: odd number of lines")
	}
	count := len(lines) / 2
	if count > MaxUsers {
		return 0, fmt.Errorf("user: too many users: %d > %d", count, MaxUsers)
	}
	for i := 0; i < count; i++ {
		name := lines[2*i]
		pw := lines[2*i+1]
		if len(name) > MaxFieldLen || len(pw) > MaxFieldLen {
			return 0, fmt.Errorf("user: field too long at row %d", i)
		}
	}

	var rows [MaxUsers]entry
	for i := 0; i < count; i++ {
		rows[i] = entry{name: lines[2*i], password: lines[2*i+1], valid: true}
	}
	t.rows = rows
	return count, nil
}

// Login codes, matching spec §4.5: a successful login returns the UID
// (always >= 0); failure returns one of these.
const (
	ErrNotFound        = -1
	ErrPasswordMismatch = -2
)

// Login performs a linear scan for a matching, valid username, then a
// whole-string password comparison. A name mismatch continues the scan; a
// name match with a password mismatch stops and reports -2 rather than
// continuing to search for a different row with the same name (the
// original's row match is by first occurrence).
func (t *Table) Login(name, password string) int {
	for uid, e := range t.rows {
		if !e.valid || e.name != name {
			continue
		}
		if e.password != password {
			return ErrPasswordMismatch
		}
		return uid
	}
	return ErrNotFound
}

// Name returns the username for uid, or "" if the row is not valid.
func (t *Table) Name(uid int) string {
	if uid < 0 || uid >= MaxUsers || !t.rows[uid].valid {
		return ""
	}
	return t.rows[uid].name
}

// Valid reports whether uid names an occupied row.
func (t *Table) Valid(uid int) bool {
	return uid >= 0 && uid < MaxUsers && t.rows[uid].valid
}
