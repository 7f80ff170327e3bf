// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package shell is the interactive front end of modbus-cli.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/ffutop/modbus-cli/client"
	"github.com/ffutop/modbus-cli/modbus"
)

// Session is the part of client.Client the shell drives.
type Session interface {
	Connect(ctx context.Context, cfg client.Config) error
	Reconnect(ctx context.Context) error
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error)
	WriteSingleRegister(ctx context.Context, address, value uint16) error
	Close() error
}

// Shell runs the read/write menu against one server.
type Shell struct {
	session Session
	prompt  Prompter
	out     io.Writer
	styles  styles
	address string
}

func New(session Session, prompt Prompter, out io.Writer) *Shell {
	return &Shell{
		session: session,
		prompt:  prompt,
		out:     out,
		styles:  newStyles(out),
	}
}

// Run connects with cfg and serves the menu until the operator quits, aborts
// or ctx is cancelled. When ask is set the host and port are prompted for,
// with cfg's values as defaults. The session is always closed on return.
func (s *Shell) Run(ctx context.Context, cfg client.Config, ask bool) error {
	defer s.session.Close()

	if ask {
		var err error
		if cfg, err = s.askServer(cfg); err != nil {
			return s.aborted(err)
		}
	}

	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt, maxRetries int, err error) {
		fmt.Fprintln(s.out, s.styles.warning.Render(fmt.Sprintf("Connection failed. Attempt %d/%d...", attempt, maxRetries)))
		if onRetry != nil {
			onRetry(attempt, maxRetries, err)
		}
	}
	if err := s.session.Connect(ctx, cfg); err != nil {
		s.printError(err)
		return err
	}
	s.address = cfg.Address()
	fmt.Fprintln(s.out, s.styles.banner(s.address))

	for ctx.Err() == nil {
		answer, err := s.prompt.Input("Command (r = read, w = write, q = quit)", "", validateCommand)
		if err != nil {
			return s.aborted(err)
		}
		cmd, _ := parseCommand(answer)
		switch cmd {
		case commandRead:
			err = s.read(ctx)
		case commandWrite:
			err = s.write(ctx)
		case commandQuit:
			fmt.Fprintln(s.out, s.styles.dim.Render("Goodbye."))
			return nil
		}
		if err != nil {
			return s.aborted(err)
		}
	}
	return nil
}

func (s *Shell) askServer(cfg client.Config) (client.Config, error) {
	host, err := s.prompt.Input("Server host", cfg.Host, validateHost)
	if err != nil {
		return cfg, err
	}
	portStr, err := s.prompt.Input("Server port", strconv.Itoa(cfg.Port), validatePort)
	if err != nil {
		return cfg, err
	}
	port, err := parsePort(portStr)
	if err != nil {
		return cfg, err
	}
	cfg.Host = host
	cfg.Port = port
	return cfg, nil
}

// read returns only prompt errors; request errors are reported and the menu
// continues.
func (s *Shell) read(ctx context.Context) error {
	addrStr, err := s.prompt.Input("Start address", "", validateRegister)
	if err != nil {
		return err
	}
	countStr, err := s.prompt.Input("Number of registers", "1", validateRegister)
	if err != nil {
		return err
	}
	address, _ := parseRegister(addrStr)
	count, _ := parseRegister(countStr)

	values, err := s.session.ReadHoldingRegisters(ctx, address, count)
	if err != nil {
		return s.handle(ctx, err)
	}
	fmt.Fprintln(s.out, s.styles.registerTable(address, values))
	return nil
}

func (s *Shell) write(ctx context.Context) error {
	addrStr, err := s.prompt.Input("Register address", "", validateRegister)
	if err != nil {
		return err
	}
	valueStr, err := s.prompt.Input("Value (0-65535)", "", validateRegister)
	if err != nil {
		return err
	}
	address, _ := parseRegister(addrStr)
	value, _ := parseRegister(valueStr)

	if err := s.session.WriteSingleRegister(ctx, address, value); err != nil {
		return s.handle(ctx, err)
	}
	fmt.Fprintln(s.out, s.styles.success.Render(fmt.Sprintf("Wrote %d to Register %d", value, address)))
	return nil
}

// handle reports a request error and offers to reconnect when the
// connection is unusable.
func (s *Shell) handle(ctx context.Context, err error) error {
	s.printError(err)
	if ctx.Err() != nil {
		return nil
	}
	if !errors.Is(err, modbus.ErrNotConnected) && !errors.Is(err, modbus.ErrConnectionLost) {
		return nil
	}
	ok, perr := s.prompt.Confirm(fmt.Sprintf("Reconnect to %s?", s.address))
	if perr != nil || !ok {
		return perr
	}
	if rerr := s.session.Reconnect(ctx); rerr != nil {
		s.printError(rerr)
		return nil
	}
	fmt.Fprintln(s.out, s.styles.success.Render("Reconnected to "+s.address))
	return nil
}

func (s *Shell) printError(err error) {
	slog.Debug("request failed", "err", err)
	fmt.Fprintln(s.out, s.styles.describe(err))
}

// aborted maps an operator abort to a clean exit.
func (s *Shell) aborted(err error) error {
	if errors.Is(err, ErrAborted) {
		fmt.Fprintln(s.out)
		return nil
	}
	return err
}
