package creds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Pair is a single username/password combination under test.
type Pair struct {
	Username string
	Password string
}

func (p Pair) String() string {
	return p.Username + ":" + p.Password
}

// Opener returns a fresh reader over a newline separated list.
type Opener func() (io.ReadCloser, error)

// File opens the list stored at path.
func File(path string) Opener {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

// Lines serves an in-memory list, one entry per element.
func Lines(lines ...string) Opener {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(strings.Join(lines, "\n"))), nil
	}
}

// SourceReadError reports a username or password list that could not be read.
type SourceReadError struct {
	List string
	Err  error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("reading %s list: %v", e.List, e.Err)
}

func (e *SourceReadError) Unwrap() error {
	return e.Err
}

// Source enumerates the cross product of a username list and a password list.
// Every call to Each or Count reopens the lists, so a Source can be walked
// any number of times.
type Source struct {
	Usernames Opener
	Passwords Opener
}

func NewFileSource(usernamesPath, passwordsPath string) *Source {
	return &Source{
		Usernames: File(usernamesPath),
		Passwords: File(passwordsPath),
	}
}

// Each calls fn for every pair, usernames outer and passwords inner. The
// password list is reread for each username. Blank usernames are skipped,
// passwords are passed through as-is, including the empty one. Iteration
// stops at the first error returned by fn or when ctx is done.
func (s *Source) Each(ctx context.Context, fn func(Pair) error) error {
	return scanList("username", s.Usernames, func(user string) error {
		if user == "" {
			return nil
		}
		return scanList("password", s.Passwords, func(pwd string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(Pair{Username: user, Password: pwd})
		})
	})
}

// Count returns the number of usable usernames and passwords.
func (s *Source) Count() (users int, passwords int, err error) {
	err = scanList("username", s.Usernames, func(user string) error {
		if user != "" {
			users++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	err = scanList("password", s.Passwords, func(string) error {
		passwords++
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return users, passwords, nil
}

func scanList(name string, open Opener, fn func(string) error) error {
	if open == nil {
		return &SourceReadError{List: name, Err: fmt.Errorf("no %s list configured", name)}
	}
	rc, err := open()
	if err != nil {
		return &SourceReadError{List: name, Err: err}
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		if err := fn(strings.TrimRight(scanner.Text(), "\r\n")); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &SourceReadError{List: name, Err: err}
	}
	return nil
}
