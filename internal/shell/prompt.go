// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
)

// ErrAborted is returned by a Prompter when the operator gives up (Ctrl+C).
var ErrAborted = errors.New("aborted")

// Prompter asks the operator for input.
type Prompter interface {
	// Input asks for a line of text. An empty answer yields def.
	Input(title, def string, validate func(string) error) (string, error)
	Confirm(title string) (bool, error)
}

// HuhPrompter prompts on the terminal with charmbracelet/huh.
type HuhPrompter struct {
	// Accessible selects plain line based prompts, for screen readers and
	// terminals without cursor control.
	Accessible bool
}

func (p HuhPrompter) Input(title, def string, validate func(string) error) (string, error) {
	var value string
	input := huh.NewInput().
		Title(title).
		Placeholder(def).
		Value(&value).
		Validate(func(s string) error {
			if validate == nil {
				return nil
			}
			return validate(withDefault(s, def))
		})
	if err := p.run(input); err != nil {
		return "", err
	}
	return withDefault(value, def), nil
}

func (p HuhPrompter) Confirm(title string) (bool, error) {
	ok := true
	if err := p.run(huh.NewConfirm().Title(title).Value(&ok)); err != nil {
		return false, err
	}
	return ok, nil
}

func (p HuhPrompter) run(field huh.Field) error {
	err := huh.NewForm(huh.NewGroup(field)).WithAccessible(p.Accessible).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrAborted
	}
	return err
}

func withDefault(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// command is an entry of the main menu.
type command int

const (
	commandRead command = iota + 1
	commandWrite
	commandQuit
)

func parseCommand(s string) (command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "r", "read":
		return commandRead, nil
	case "w", "write":
		return commandWrite, nil
	case "q", "quit", "exit":
		return commandQuit, nil
	}
	return 0, fmt.Errorf("unknown command %q, use r, w or q", s)
}

func validateCommand(s string) error {
	_, err := parseCommand(s)
	return err
}

func parseRegister(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number between 0 and 65535", s)
	}
	return uint16(n), nil
}

func validateRegister(s string) error {
	_, err := parseRegister(s)
	return err
}

func validateHost(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("host must not be empty")
	}
	return nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("%q is not a port between 1 and 65535", s)
	}
	return n, nil
}

func validatePort(s string) error {
	_, err := parsePort(s)
	return err
}
